// Package conversation provides the stored shape of a chat with a model.
//
// A Conversation is an append-only list of messages. Each message points to the message it
// replies to through its ParentID, so the list forms a forest: replying to an older message
// starts a new branch instead of overwriting history. ResolveContext walks those parent links
// back to a root to build the prompt context for the next request.
package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

var (
	ErrDuplicateMessage = errors.New("message id already stored")
	ErrUnknownParent    = errors.New("parent message not stored in conversation")
)

type Conversation struct {
	ID        string     `json:"id"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"createdAt"`
}

// NewConversation creates an empty conversation. An empty id gets a random uuid.
func NewConversation(id string) *Conversation {
	if id == "" {
		id = uuid.New().String()
	}
	return &Conversation{
		ID:        id,
		Messages:  []*Message{},
		CreatedAt: time.Now(),
	}
}

// Append stores messages at the end of the conversation.
//
// Every message must reference a parent that is already stored (or appended earlier in the
// same call), or be a root. Nothing is appended if any message fails that check.
func (c *Conversation) Append(msgs ...*Message) error {
	known := make(map[NodeID]struct{}, len(c.Messages)+len(msgs))
	for _, m := range c.Messages {
		known[m.ID] = struct{}{}
	}

	for _, m := range msgs {
		if _, exists := known[m.ID]; exists {
			return errors.Wrapf(ErrDuplicateMessage, "message %s", m.ID)
		}
		if m.ParentID != NullNode {
			if _, exists := known[m.ParentID]; !exists {
				return errors.Wrapf(ErrUnknownParent, "message %s references %s", m.ID, m.ParentID)
			}
		}
		known[m.ID] = struct{}{}
	}

	c.Messages = append(c.Messages, msgs...)
	return nil
}

func (c *Conversation) Get(id NodeID) (*Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].ID == id {
			return c.Messages[i], true
		}
	}
	return nil, false
}

// Last returns the most recently appended message, or nil for an empty conversation.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

func (c *Conversation) Len() int {
	return len(c.Messages)
}

func (c *Conversation) Clone() *Conversation {
	return clone.Clone(c).(*Conversation)
}
