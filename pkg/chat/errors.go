package chat

import (
	"fmt"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/go-go-golems/ollachat/pkg/steps/ai/ollama"
	"github.com/pkg/errors"
)

var (
	ErrCache    = errors.New("conversation cache error")
	ErrCanceled = errors.New("chat request canceled")
	ErrInvalid  = errors.New("invalid chat message")

	ErrTransport = ollama.ErrTransport
	ErrBackend   = ollama.ErrBackend
)

// TransportError is returned when the model server could not be reached or answered with
// an error status.
type TransportError = ollama.TransportError

// CacheError reports a failed read or write of the conversation store.
type CacheError struct {
	Op             string
	ConversationID string
	Err            error
}

func (e *CacheError) Error() string {
	if e == nil {
		return ErrCache.Error()
	}
	return fmt.Sprintf("%s: %s conversation %q: %v", ErrCache, e.Op, e.ConversationID, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func (e *CacheError) Is(target error) bool { return target == ErrCache }

// CanceledError is returned when the caller's context ended the request. It unwraps to the
// context error, so errors.Is(err, context.Canceled) holds as well.
type CanceledError struct {
	// Partial is the reply text received before the cancellation.
	Partial string
	Err     error
}

func (e *CanceledError) Error() string {
	if e == nil {
		return ErrCanceled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCanceled, e.Err)
}

func (e *CanceledError) Unwrap() error { return e.Err }

func (e *CanceledError) Is(target error) bool { return target == ErrCanceled }

// InvalidMessageError rejects a message before anything is stored or sent.
type InvalidMessageError struct {
	Role conversation.Role
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("%s: unknown role %q", ErrInvalid, e.Role)
}

func (e *InvalidMessageError) Is(target error) bool { return target == ErrInvalid }
