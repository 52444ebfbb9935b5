package ollama

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrTransport = errors.New("transport error")
	ErrBackend   = errors.New("backend error")
)

// TransportError reports a failed request: the connection could not be made, the read
// broke off, or the server answered with a non-2xx status.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e == nil {
		return ErrTransport.Error()
	}
	msg := fmt.Sprintf("%s calling %s", ErrTransport, e.Endpoint)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// BackendError is an {"error": "..."} record sent by the model server in the middle of a stream.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	if e == nil {
		return ErrBackend.Error()
	}
	return fmt.Sprintf("%s: %s", ErrBackend, e.Message)
}

func (e *BackendError) Is(target error) bool { return target == ErrBackend }
