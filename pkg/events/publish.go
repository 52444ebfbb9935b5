package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/ollachat/pkg/helpers"
	"github.com/rs/zerolog/log"
)

const (
	SequenceNumberMetadataKey = "sequence_number"
	EventTypeMetadataKey      = "event_type"
)

// PublisherManager distributes events to a set of watermill Publishers.
// A publisher is subscribed to a topic, and every published event is sent to
// every publisher on the topic it was subscribed with.
//
// The manager numbers outgoing messages in the order they are handled by Publish.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, sub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], sub)
}

// Publish serializes the event to JSON and sends it to all publishers.
// The message carries ctx, so a helpers.CorrelatingPublisher picks up the
// conversation id stored with helpers.WithConversationID.
func (s *PublisherManager) Publish(ctx context.Context, event Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var lastErr error
	for topic, subs := range s.Publishers {
		for _, sub := range subs {
			// publishers may mutate metadata, every one gets its own copy
			msg := message.NewMessage(watermill.NewUUID(), b)
			msg.SetContext(ctx)
			msg.Metadata.Set(SequenceNumberMetadataKey, fmt.Sprintf("%d", s.sequenceNumber))
			msg.Metadata.Set(EventTypeMetadataKey, string(event.Type()))
			err = sub.Publish(topic, msg)
			if err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
				lastErr = err
			}
		}
	}
	s.sequenceNumber++

	return lastErr
}

// PublishBlind publishes and only logs failures. Event delivery never fails a chat request.
func (s *PublisherManager) PublishBlind(ctx context.Context, event Event) {
	err := s.Publish(ctx, event)
	if err != nil {
		log.Warn().Err(err).Str("type", string(event.Type())).Msg("failed to publish event")
	}
}

// WithCorrelation wraps a publisher so every message is tagged with the correlation id of its context.
func WithCorrelation(p message.Publisher) message.Publisher {
	return helpers.NewCorrelatingPublisher(p)
}
