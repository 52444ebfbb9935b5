// Package chat keeps conversations with an Ollama model.
//
// A Client sends a user message together with the history it replies to, streams the answer
// back and stores both turns in a conversation tree. Replying to an older message starts a
// new branch, nothing stored is ever overwritten.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/go-go-golems/ollachat/pkg/conversation/store"
	"github.com/go-go-golems/ollachat/pkg/events"
	"github.com/go-go-golems/ollachat/pkg/helpers"
	"github.com/go-go-golems/ollachat/pkg/steps/ai/ollama"
	ollama_settings "github.com/go-go-golems/ollachat/pkg/steps/ai/settings/ollama"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ChatClient is what a chat backend has to offer to the rest of the program.
type ChatClient interface {
	SendMessage(ctx context.Context, message *conversation.Turn, opts ...SendOption) (*Result, error)
	SetOptions(overrides *ollama_settings.Settings) error
}

// Completer runs one chat request against a model. *ollama.Backend implements it.
type Completer interface {
	Complete(
		ctx context.Context,
		s *ollama_settings.Settings,
		turns []conversation.Turn,
		onDelta ollama.DeltaHandler,
	) (*ollama.Completion, error)
}

// Result describes the stored assistant reply.
type Result struct {
	ConversationID string              `json:"conversationId"`
	ParentID       conversation.NodeID `json:"parentId"`
	MessageID      conversation.NodeID `json:"messageId"`
	Response       string              `json:"response"`
	Details        *ollama.Completion  `json:"details,omitempty"`
}

type Client struct {
	store        store.Store
	backend      Completer
	participants conversation.Participants
	publisher    *events.PublisherManager

	mu       sync.RWMutex
	settings *ollama_settings.Settings

	locks *keyedLocks
}

var _ ChatClient = (*Client)(nil)

type ClientOption func(*Client)

func WithStore(s store.Store) ClientOption {
	return func(c *Client) {
		c.store = s
	}
}

func WithBackend(b Completer) ClientOption {
	return func(c *Client) {
		c.backend = b
	}
}

func WithSettings(s *ollama_settings.Settings) ClientOption {
	return func(c *Client) {
		if s != nil {
			c.settings = s.Clone()
		}
	}
}

func WithParticipants(p conversation.Participants) ClientOption {
	return func(c *Client) {
		c.participants = p
	}
}

// WithPublisherManager publishes progress events of every request.
func WithPublisherManager(p *events.PublisherManager) ClientOption {
	return func(c *Client) {
		c.publisher = p
	}
}

func NewClient(options ...ClientOption) *Client {
	ret := &Client{
		store:        store.NewMemoryStore(),
		backend:      ollama.NewBackend(),
		participants: conversation.DefaultParticipants(),
		settings:     ollama_settings.DefaultSettings(),
		locks:        newKeyedLocks(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// SetOptions merges overrides into the model settings used by subsequent calls.
func (c *Client) SetOptions(overrides *ollama_settings.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged, err := c.settings.Merge(overrides)
	if err != nil {
		return err
	}
	c.settings = merged
	return nil
}

// Settings returns a copy of the current model settings.
func (c *Client) Settings() *ollama_settings.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.Clone()
}

// SendText sends text as a user message. Empty text replays the parent like a nil message.
func (c *Client) SendText(ctx context.Context, text string, opts ...SendOption) (*Result, error) {
	if text == "" {
		return c.SendMessage(ctx, nil, opts...)
	}
	return c.SendMessage(ctx, conversation.NewUserTurn(text), opts...)
}

// SendMessage appends message to a conversation, asks the model for a reply and stores it.
//
// A nil message replays: the model answers the resolved parent again and no user message is
// added. The user message is stored before the model is called and stays stored when the
// call fails, so the request can be retried from the same parent.
//
// Calls on the same conversation id run one at a time.
func (c *Client) SendMessage(ctx context.Context, message *conversation.Turn, opts ...SendOption) (*Result, error) {
	o := &sendOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var role conversation.Role
	if message != nil {
		role = message.Role
		if role == "" {
			role = conversation.RoleUser
		}
		if !role.IsValid() {
			return nil, &InvalidMessageError{Role: role}
		}
	}

	if o.clientOptions != nil {
		if err := c.SetOptions(o.clientOptions); err != nil {
			return nil, err
		}
	}
	settings := c.Settings()

	conversationID := o.conversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	release, err := c.locks.acquire(ctx, conversationID)
	if err != nil {
		return nil, &CanceledError{Err: errors.Wrap(err, "waiting for conversation")}
	}
	defer release()

	conv, ok, err := c.store.Get(ctx, conversationID)
	if err != nil {
		return nil, c.storeError(ctx, "get", conversationID, err)
	}
	if !ok {
		log.Debug().Str("conversation", conversationID).Msg("conversation cache miss, starting a new conversation")
		conv = conversation.NewConversation(conversationID)
	} else {
		log.Debug().Str("conversation", conversationID).Int("messages", conv.Len()).Msg("conversation cache hit")
	}

	parentID, thread := c.resolveParent(conv, o.parentMessageID)

	turns := make([]conversation.Turn, 0, len(thread)+2)
	if len(thread) == 0 && o.systemMessage != "" {
		turns = append(turns, *conversation.NewSystemTurn(o.systemMessage))
	}
	turns = append(turns, thread.Turns()...)

	replyParentID := parentID
	if message != nil {
		userMessage := conversation.NewMessage(role, message.Content,
			conversation.WithParentID(parentID),
			conversation.WithDisplay(c.participants.DisplayFor(role)),
		)
		if err := conv.Append(userMessage); err != nil {
			return nil, errors.Wrap(err, "could not append user message")
		}
		turns = append(turns, userMessage.ToTurn())

		if err := c.store.Set(ctx, conversationID, conv); err != nil {
			return nil, c.storeError(ctx, "set", conversationID, err)
		}
		replyParentID = userMessage.ID
	}

	assistantID := conversation.NewNodeID()
	metadata := events.EventMetadata{
		ID:             uuid.UUID(assistantID),
		ParentID:       uuid.UUID(replyParentID),
		ConversationID: conversationID,
		Model:          settings.GetModel(),
		Extra:          settings.GetMetadata(),
	}
	ctx = helpers.WithConversationID(ctx, conversationID)
	c.publish(ctx, events.NewStartEvent(metadata))

	streaming := settings.IsStreaming()
	var sb strings.Builder
	completion, err := c.backend.Complete(ctx, settings, turns, func(delta ollama.ContentDelta) {
		sb.WriteString(delta.Text)
		if !streaming {
			return
		}
		if o.onProgress != nil {
			o.onProgress(delta.Text)
		}
		c.publish(ctx, events.NewPartialCompletionEvent(metadata, delta.Text, sb.String()))
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.Canceled) {
			log.Debug().Str("conversation", conversationID).Int("received", sb.Len()).Msg("chat request interrupted")
			c.publish(ctx, events.NewInterruptEvent(metadata, sb.String()))
			return nil, &CanceledError{Partial: sb.String(), Err: err}
		}
		c.publish(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	assistantMetadata := map[string]interface{}{
		"model": completion.Model,
	}
	if completion.Final != nil {
		assistantMetadata["eval_count"] = completion.Final.EvalCount
		if completion.Final.DoneReason != "" {
			assistantMetadata["done_reason"] = completion.Final.DoneReason
		}
	}
	assistantMessage := conversation.NewMessage(conversation.RoleAssistant, completion.Content,
		conversation.WithID(assistantID),
		conversation.WithParentID(replyParentID),
		conversation.WithDisplay(c.participants.DisplayFor(conversation.RoleAssistant)),
		conversation.WithMetadata(assistantMetadata),
	)
	if err := conv.Append(assistantMessage); err != nil {
		return nil, errors.Wrap(err, "could not append assistant message")
	}
	if err := c.store.Set(ctx, conversationID, conv); err != nil {
		err = c.storeError(ctx, "set", conversationID, err)
		c.publish(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	c.publish(ctx, events.NewFinalEvent(metadata, completion.Content))

	return &Result{
		ConversationID: conversationID,
		ParentID:       replyParentID,
		MessageID:      assistantMessage.ID,
		Response:       completion.Content,
		Details:        completion,
	}, nil
}

// resolveParent picks the message the new turn replies to and the thread leading to it.
// An explicit parent that is not stored is dropped, the new turn then starts a root.
func (c *Client) resolveParent(conv *conversation.Conversation, explicit conversation.NodeID) (conversation.NodeID, conversation.Thread) {
	if explicit != conversation.NullNode {
		if _, ok := conv.Get(explicit); !ok {
			log.Warn().
				Str("conversation", conv.ID).
				Str("parent", explicit.String()).
				Msg("parent message not found, starting a new root")
			return conversation.NullNode, conversation.Thread{}
		}
		return explicit, conversation.ResolveContext(conv.Messages, explicit)
	}

	thread := conversation.ResolveContext(conv.Messages, conversation.NullNode)
	if leaf := thread.Leaf(); leaf != nil {
		return leaf.ID, thread
	}
	return conversation.NullNode, thread
}

func (c *Client) storeError(ctx context.Context, op string, id string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &CanceledError{Err: ctxErr}
	}
	return &CacheError{Op: op, ConversationID: id, Err: err}
}

func (c *Client) publish(ctx context.Context, e events.Event) {
	if c.publisher == nil {
		return
	}
	c.publisher.PublishBlind(ctx, e)
}
