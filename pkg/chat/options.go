package chat

import (
	"github.com/go-go-golems/ollachat/pkg/conversation"
	ollama_settings "github.com/go-go-golems/ollachat/pkg/steps/ai/settings/ollama"
)

// ProgressFunc receives each reply fragment while the answer is streamed.
type ProgressFunc func(fragment string)

type sendOptions struct {
	conversationID  string
	parentMessageID conversation.NodeID
	systemMessage   string
	onProgress      ProgressFunc
	clientOptions   *ollama_settings.Settings
}

type SendOption func(*sendOptions)

// WithConversationID continues the given conversation, creating it on first use.
// Without it every call starts a new conversation with a random id.
func WithConversationID(id string) SendOption {
	return func(o *sendOptions) {
		o.conversationID = id
	}
}

// WithParentMessageID answers a specific stored message instead of the most recent one.
// Addressing an older message starts a new branch.
func WithParentMessageID(id conversation.NodeID) SendOption {
	return func(o *sendOptions) {
		o.parentMessageID = id
	}
}

// WithSystemMessage is sent ahead of the context when the resolved context is empty.
// It is never stored in the conversation.
func WithSystemMessage(text string) SendOption {
	return func(o *sendOptions) {
		o.systemMessage = text
	}
}

func WithOnProgress(f ProgressFunc) SendOption {
	return func(o *sendOptions) {
		o.onProgress = f
	}
}

// WithClientOptions merges s into the client's model settings before the call. The merge
// is persistent, later calls see it too.
func WithClientOptions(s *ollama_settings.Settings) SendOption {
	return func(o *sendOptions) {
		o.clientOptions = s
	}
}
