package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser:
		return true
	default:
		return false
	}
}

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var uuid_ uuid.UUID
	if err := json.Unmarshal(data, &uuid_); err != nil {
		return err
	}
	*id = NodeID(uuid_)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func (id NodeID) IsNull() bool {
	return id == NullNode
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses the string form of a message id. The empty string parses to NullNode.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return NullNode, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return NullNode, err
	}
	return NodeID(u), nil
}

var NullNode NodeID = NodeID(uuid.Nil)

// Message is a single stored turn. Once appended to a Conversation it is never modified.
type Message struct {
	ID       NodeID    `json:"id"`
	ParentID NodeID    `json:"parentID"`
	Role     Role      `json:"role"`
	Display  string    `json:"display,omitempty"`
	Content  string    `json:"content"`
	Time     time.Time `json:"time"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(message *Message) {
		message.Metadata = metadata
	}
}

func WithTime(time time.Time) MessageOption {
	return func(message *Message) {
		message.Time = time
	}
}

func WithParentID(parentID NodeID) MessageOption {
	return func(message *Message) {
		message.ParentID = parentID
	}
}

func WithID(id NodeID) MessageOption {
	return func(message *Message) {
		message.ID = id
	}
}

func WithDisplay(display string) MessageOption {
	return func(message *Message) {
		message.Display = display
	}
}

func NewMessage(role Role, content string, options ...MessageOption) *Message {
	ret := &Message{
		ID:      NewNodeID(),
		Role:    role,
		Content: content,
		Time:    time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (m *Message) IsRoot() bool {
	return m.ParentID == NullNode
}

func (m *Message) View() string {
	label := m.Display
	if label == "" {
		label = string(m.Role)
	}
	return fmt.Sprintf("[%s]: %s", label, strings.TrimRight(m.Content, "\n"))
}

// Turn is the wire shape of a message sent to the model: a role and its content.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func NewUserTurn(content string) *Turn {
	return &Turn{Role: RoleUser, Content: content}
}

func NewSystemTurn(content string) *Turn {
	return &Turn{Role: RoleSystem, Content: content}
}

func (m *Message) ToTurn() Turn {
	return Turn{Role: m.Role, Content: m.Content}
}

// Thread is a linear root-to-leaf chain of messages.
type Thread []*Message

func (t Thread) Turns() []Turn {
	ret := make([]Turn, 0, len(t))
	for _, m := range t {
		ret = append(ret, m.ToTurn())
	}
	return ret
}

func (t Thread) Leaf() *Message {
	if len(t) == 0 {
		return nil
	}
	return t[len(t)-1]
}

func (t Thread) IDs() []NodeID {
	ret := make([]NodeID, 0, len(t))
	for _, m := range t {
		ret = append(ret, m.ID)
	}
	return ret
}

func (t Thread) View() string {
	var sb strings.Builder
	for _, m := range t {
		sb.WriteString(m.View())
		sb.WriteString("\n")
	}
	return sb.String()
}
