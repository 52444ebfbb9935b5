package helpers

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillLogger writes the log lines of the watermill router and pubsub to zerolog.
// Watermill reports every subscription and handler start at info level, those lines
// are logged at debug.
type WatermillLogger struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = (*WatermillLogger)(nil)

func NewWatermillLogger(logger zerolog.Logger) *WatermillLogger {
	return &WatermillLogger{
		logger: logger.With().Str("component", "watermill").Logger(),
	}
}

func (w *WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.write(w.logger.Error().Err(err), msg, fields)
}

func (w *WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.write(w.logger.Debug(), msg, fields)
}

func (w *WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.write(w.logger.Debug(), msg, fields)
}

func (w *WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.write(w.logger.Trace(), msg, fields)
}

func (w *WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillLogger{
		logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger(),
	}
}

// zerolog only expands plain maps, LogFields has to be converted.
func (w *WatermillLogger) write(e *zerolog.Event, msg string, fields watermill.LogFields) {
	e.Fields(map[string]interface{}(fields)).Msg(msg)
}
