package helpers

import (
	"bytes"
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	published []*message.Message
}

func (r *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	r.published = append(r.published, messages...)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestCorrelatingPublisher(t *testing.T) {
	rec := &recordingPublisher{}
	p := NewCorrelatingPublisher(rec)

	fromConversation := message.NewMessage(watermill.NewUUID(), nil)
	fromConversation.SetContext(WithConversationID(context.Background(), "conv-1"))
	alreadySet := message.NewMessage(watermill.NewUUID(), nil)
	alreadySet.Metadata.Set(CorrelationIDMetadataKey, "kept")
	anonymous := message.NewMessage(watermill.NewUUID(), nil)

	require.NoError(t, p.Publish("chat", fromConversation, alreadySet, anonymous))
	require.Len(t, rec.published, 3)
	assert.Equal(t, "conv-1", rec.published[0].Metadata.Get(CorrelationIDMetadataKey))
	assert.Equal(t, "kept", rec.published[1].Metadata.Get(CorrelationIDMetadataKey))
	assert.Regexp(t, `^gen_`, rec.published[2].Metadata.Get(CorrelationIDMetadataKey))
}

func TestConversationIDFromContext(t *testing.T) {
	_, ok := ConversationIDFromContext(context.Background())
	assert.False(t, ok)
	_, ok = ConversationIDFromContext(WithConversationID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := ConversationIDFromContext(WithConversationID(context.Background(), "c"))
	assert.True(t, ok)
	assert.Equal(t, "c", id)
}

func TestWatermillLoggerKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWatermillLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	logger.With(watermill.LogFields{"topic": "chat"}).Info("subscribing", watermill.LogFields{"handler": "printer"})

	out := buf.String()
	assert.Contains(t, out, `"level":"debug"`)
	assert.Contains(t, out, `"component":"watermill"`)
	assert.Contains(t, out, `"topic":"chat"`)
	assert.Contains(t, out, `"handler":"printer"`)
	assert.Contains(t, out, `"message":"subscribing"`)
}
