package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultChunkSize = 4096

// ContentDelta is one incremental text fragment of a streamed reply.
type ContentDelta struct {
	Text string `json:"text"`
}

// Record is one JSON line of an /api/chat response. CreatedAt is kept as sent, servers
// do not agree on its format.
type Record struct {
	Model      string       `json:"model,omitempty"`
	CreatedAt  string       `json:"created_at,omitempty"`
	Message    *api.Message `json:"message,omitempty"`
	Done       bool         `json:"done"`
	DoneReason string       `json:"done_reason,omitempty"`
	Error      string       `json:"error,omitempty"`

	api.Metrics
}

func (r *Record) content() string {
	if r.Message == nil {
		return ""
	}
	return r.Message.Content
}

type Stats struct {
	Chunks  int `json:"chunks"`
	Bytes   int `json:"bytes"`
	Records int `json:"records"`
	Skipped int `json:"skipped"`
	Deltas  int `json:"deltas"`
}

// SkipObserver is told about every stream record that could not be parsed.
type SkipObserver interface {
	OnSkippedRecord(line []byte, err error)
}

type SkipObserverFunc func(line []byte, err error)

func (f SkipObserverFunc) OnSkippedRecord(line []byte, err error) {
	f(line, err)
}

type logSkipObserver struct{}

func (logSkipObserver) OnSkippedRecord(line []byte, err error) {
	log.Warn().Err(err).Str("line", string(line)).Msg("skipping malformed stream record")
}

// LogSkipObserver logs skipped records as warnings.
var LogSkipObserver SkipObserver = logSkipObserver{}

type DecoderOption func(*Decoder)

func WithSkipObserver(o SkipObserver) DecoderOption {
	return func(d *Decoder) {
		if o != nil {
			d.observer = o
		}
	}
}

func WithChunkSize(size int) DecoderOption {
	return func(d *Decoder) {
		if size > 0 {
			d.chunkSize = size
		}
	}
}

// Decoder turns a newline delimited JSON stream into a sequence of ContentDelta.
//
// Next reads from the underlying reader only when every complete line of the previous chunk
// has been consumed. A line split across two reads is carried over and completed by the next
// read. The sequence ends at the first record with "done": true, at the end of the reader,
// at an error record, or when the context is cancelled.
type Decoder struct {
	ctx       context.Context
	r         io.Reader
	observer  SkipObserver
	chunkSize int

	buf     []byte
	carry   []byte
	pending [][]byte
	eof     bool

	finished bool
	err      error
	final    *Record
	stats    Stats
}

func NewDecoder(ctx context.Context, r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		ctx:       ctx,
		r:         r,
		observer:  LogSkipObserver,
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.buf = make([]byte, d.chunkSize)
	return d
}

// Next returns the next delta. It returns io.EOF once the stream completed normally, and
// the same error on every call after the sequence ended.
func (d *Decoder) Next() (ContentDelta, error) {
	for {
		if d.finished {
			return ContentDelta{}, d.err
		}
		if err := d.ctx.Err(); err != nil {
			return ContentDelta{}, d.finish(errors.Wrap(err, "stream decoding interrupted"))
		}

		if len(d.pending) > 0 {
			line := d.pending[0]
			d.pending = d.pending[1:]
			if delta, ok := d.processLine(line); ok {
				return delta, nil
			}
			continue
		}

		if d.eof {
			if len(bytes.TrimSpace(d.carry)) > 0 {
				// last record without a trailing newline
				d.pending = append(d.pending, d.carry)
				d.carry = nil
				continue
			}
			return ContentDelta{}, d.finish(io.EOF)
		}

		d.read()
	}
}

func (d *Decoder) read() {
	n, err := d.r.Read(d.buf)
	if n > 0 {
		d.stats.Chunks++
		d.stats.Bytes += n

		data := make([]byte, 0, len(d.carry)+n)
		data = append(data, d.carry...)
		data = append(data, d.buf[:n]...)

		lines := bytes.Split(data, []byte("\n"))
		d.carry = lines[len(lines)-1]
		d.pending = append(d.pending, lines[:len(lines)-1]...)
	}

	if err == nil {
		return
	}
	if err == io.EOF {
		d.eof = true
		return
	}
	if ctxErr := d.ctx.Err(); ctxErr != nil {
		_ = d.finish(errors.Wrap(ctxErr, "stream decoding interrupted"))
		return
	}
	_ = d.finish(&TransportError{Message: "reading response body", Err: err})
}

// processLine returns a delta when the line carried content that should be emitted.
func (d *Decoder) processLine(line []byte) (ContentDelta, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return ContentDelta{}, false
	}

	record, err := decodeRecord(line)
	if err != nil {
		d.stats.Skipped++
		d.observer.OnSkippedRecord(line, err)
		return ContentDelta{}, false
	}
	d.stats.Records++

	log.Trace().
		Bool("done", record.Done).
		Int("contentLength", len(record.content())).
		Msg("decoded stream record")

	if record.Error != "" {
		_ = d.finish(&BackendError{Message: record.Error})
		return ContentDelta{}, false
	}

	content := record.content()
	if record.Done {
		d.final = &record
		// stream: false answers with a single done record that carries the whole reply
		delta, ok := ContentDelta{}, false
		if content != "" {
			delta, ok = d.emit(content)
		}
		_ = d.finish(io.EOF)
		return delta, ok
	}

	if content == "" {
		return ContentDelta{}, false
	}
	return d.emit(content)
}

// decodeRecord fails only on lines that are not a JSON object. A field of the wrong type
// is left at its zero value and the remaining fields are still decoded, so a mistyped
// metric never costs the content of its record.
func decodeRecord(line []byte) (Record, error) {
	var record Record
	err := json.Unmarshal(line, &record)
	if err == nil {
		return record, nil
	}
	if !json.Valid(line) || line[0] != '{' {
		return Record{}, err
	}

	log.Debug().Err(err).Str("line", string(line)).Msg("ignoring mistyped fields of stream record")
	return record, nil
}

func (d *Decoder) emit(content string) (ContentDelta, bool) {
	if err := d.ctx.Err(); err != nil {
		_ = d.finish(errors.Wrap(err, "stream decoding interrupted"))
		return ContentDelta{}, false
	}
	d.stats.Deltas++
	return ContentDelta{Text: content}, true
}

func (d *Decoder) finish(err error) error {
	if d.finished {
		return d.err
	}
	d.finished = true
	d.err = err
	d.pending = nil
	d.carry = nil
	return err
}

// Final is the record that completed the stream, nil if the stream ended without one.
func (d *Decoder) Final() *Record {
	return d.final
}

func (d *Decoder) Stats() Stats {
	return d.stats
}
