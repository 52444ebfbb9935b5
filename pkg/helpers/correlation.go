package helpers

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/lithammer/shortuuid/v3"
	"github.com/rs/zerolog/log"
)

// CorrelationIDMetadataKey holds the conversation id on published chat events. It is the
// key watermill's correlation middleware reads.
const CorrelationIDMetadataKey = middleware.CorrelationIDMetadataKey

type conversationIDKey struct{}

// WithConversationID marks ctx as belonging to a request on conversation id.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey{}, id)
}

func ConversationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(conversationIDKey{}).(string)
	return id, ok && id != ""
}

// CorrelationID is the conversation id of ctx. Outside of a chat request a fresh id with
// a gen_ prefix is made up, so such messages stand out in the event log.
func CorrelationID(ctx context.Context) string {
	if id, ok := ConversationIDFromContext(ctx); ok {
		return id
	}
	id := "gen_" + shortuuid.New()
	log.Debug().Str("correlation_id", id).Msg("no conversation in context, generated a correlation id")
	return id
}

// CorrelatingPublisher sets the correlation id of every message that is published without one.
type CorrelatingPublisher struct {
	message.Publisher
}

func NewCorrelatingPublisher(p message.Publisher) *CorrelatingPublisher {
	return &CorrelatingPublisher{Publisher: p}
}

func (c *CorrelatingPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		if middleware.MessageCorrelationID(msg) == "" {
			middleware.SetCorrelationID(CorrelationID(msg.Context()), msg)
		}
	}
	return c.Publisher.Publish(topic, messages...)
}
