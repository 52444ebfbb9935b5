package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{
			Type_:     EventTypeStart,
			Metadata_: metadata,
		},
	}
}

var _ Event = &EventPartialCompletionStart{}

// EventPartialCompletion carries one streamed delta and the reply assembled so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

// EventInterrupt is published when the caller cancelled the request. Text is what was
// received before the interruption.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

var _ Event = &EventInterrupt{}

// EventMetadata identifies the reply an event belongs to.
type EventMetadata struct {
	ID             uuid.UUID              `json:"message_id" yaml:"message_id"`
	ParentID       uuid.UUID              `json:"parent_id" yaml:"parent_id"`
	ConversationID string                 `json:"conversation_id" yaml:"conversation_id"`
	Model          string                 `json:"model,omitempty" yaml:"model,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	e.Str("parent_id", em.ParentID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
}

// NewEventFromJson decodes an event published by PublisherManager back into its concrete type.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal event: %w", err)
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}

	switch e.Type_ {
	case EventTypeStart:
		ret, ok := ToTypedEvent[EventPartialCompletionStart](b)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventPartialCompletionStart")
		}
		return ret, nil
	case EventTypePartialCompletion:
		ret, ok := ToTypedEvent[EventPartialCompletion](b)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventPartialCompletion")
		}
		return ret, nil
	case EventTypeFinal:
		ret, ok := ToTypedEvent[EventFinal](b)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventFinal")
		}
		return ret, nil
	case EventTypeError:
		ret, ok := ToTypedEvent[EventError](b)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventError")
		}
		return ret, nil
	case EventTypeInterrupt:
		ret, ok := ToTypedEvent[EventInterrupt](b)
		if !ok {
			return nil, fmt.Errorf("could not cast event to EventInterrupt")
		}
		return ret, nil
	}

	e.payload = b
	return e, nil
}

type payloadSetter interface {
	setPayload(b []byte)
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func ToTypedEvent[T any](b []byte) (*T, bool) {
	var ret *T
	err := json.Unmarshal(b, &ret)
	if err != nil || ret == nil {
		return nil, false
	}
	if p, ok := any(ret).(payloadSetter); ok {
		p.setPayload(b)
	}

	return ret, true
}
