package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, c *Conversation, parent NodeID, texts ...string) []*Message {
	t.Helper()
	var ret []*Message
	for i, text := range texts {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		m := NewMessage(role, text, WithParentID(parent))
		require.NoError(t, c.Append(m))
		ret = append(ret, m)
		parent = m.ID
	}
	return ret
}

func contents(thread Thread) []string {
	ret := []string{}
	for _, m := range thread {
		ret = append(ret, m.Content)
	}
	return ret
}

func TestResolveContextEmpty(t *testing.T) {
	assert.Empty(t, ResolveContext(nil, NullNode))
	assert.Empty(t, ResolveContext([]*Message{}, NewNodeID()))
}

func TestResolveContextDefaultsToLastMessage(t *testing.T) {
	c := NewConversation("")
	chain(t, c, NullNode, "a", "b", "c")

	thread := ResolveContext(c.Messages, NullNode)
	assert.Equal(t, []string{"a", "b", "c"}, contents(thread))
}

func TestResolveContextFollowsParentsNotSliceOrder(t *testing.T) {
	c := NewConversation("")
	msgs := chain(t, c, NullNode, "a", "b")
	// second branch off "a", appended after "b"
	branch := chain(t, c, msgs[0].ID, "b2", "c2")

	thread := ResolveContext(c.Messages, branch[1].ID)
	assert.Equal(t, []string{"a", "b2", "c2"}, contents(thread))

	thread = ResolveContext(c.Messages, msgs[1].ID)
	assert.Equal(t, []string{"a", "b"}, contents(thread))
}

func TestResolveContextUnknownParent(t *testing.T) {
	c := NewConversation("")
	chain(t, c, NullNode, "a", "b")

	assert.Empty(t, ResolveContext(c.Messages, NewNodeID()))
}

func TestResolveContextDoesNotMutate(t *testing.T) {
	c := NewConversation("")
	chain(t, c, NullNode, "a", "b", "c")
	before := c.Clone()

	_ = ResolveContext(c.Messages, NullNode)
	assert.Equal(t, before.Messages, c.Messages)
}

func TestResolveContextStopsOnCycle(t *testing.T) {
	a := NewMessage(RoleUser, "a")
	b := NewMessage(RoleAssistant, "b", WithParentID(a.ID))
	a.ParentID = b.ID

	thread := ResolveContext([]*Message{a, b}, b.ID)
	assert.Equal(t, []string{"a", "b"}, contents(thread))
}

func TestResolveContextProducesParentPath(t *testing.T) {
	c := NewConversation("")
	root := chain(t, c, NullNode, "r", "r1", "r2")
	chain(t, c, root[0].ID, "x1", "x2", "x3")
	chain(t, c, root[1].ID, "y1")
	chain(t, c, NullNode, "second-root", "z")

	for _, leaf := range c.Messages {
		thread := ResolveContext(c.Messages, leaf.ID)
		require.NotEmpty(t, thread)
		assert.Equal(t, leaf.ID, thread.Leaf().ID)
		assert.True(t, thread[0].IsRoot())

		seen := map[NodeID]bool{}
		for i, m := range thread {
			assert.False(t, seen[m.ID], "cycle at %s", m.ID)
			seen[m.ID] = true
			if i > 0 {
				assert.Equal(t, thread[i-1].ID, m.ParentID)
			}
		}
	}
}

func TestConversationAppendRejectsUnknownParent(t *testing.T) {
	c := NewConversation("conv")
	chain(t, c, NullNode, "a")

	err := c.Append(NewMessage(RoleUser, "orphan", WithParentID(NewNodeID())))
	require.ErrorIs(t, err, ErrUnknownParent)
	assert.Equal(t, 1, c.Len())
}

func TestConversationAppendRejectsDuplicateID(t *testing.T) {
	c := NewConversation("conv")
	msgs := chain(t, c, NullNode, "a")

	err := c.Append(NewMessage(RoleUser, "again", WithID(msgs[0].ID)))
	require.ErrorIs(t, err, ErrDuplicateMessage)
}

func TestConversationBranchHelpers(t *testing.T) {
	c := NewConversation("conv")
	msgs := chain(t, c, NullNode, "a", "b")
	other := chain(t, c, msgs[0].ID, "b2")

	children := c.Children(msgs[0].ID)
	require.Len(t, children, 2)
	assert.Equal(t, "b", children[0].Content)
	assert.Equal(t, "b2", children[1].Content)

	siblings := c.Siblings(msgs[1].ID)
	require.Len(t, siblings, 1)
	assert.Equal(t, other[0].ID, siblings[0].ID)

	leaves := c.Leaves()
	assert.Equal(t, []string{"b", "b2"}, contents(leaves))

	assert.Equal(t, other[0].ID, c.Last().ID)
	_, ok := c.Get(NewNodeID())
	assert.False(t, ok)
}

func TestParseNodeID(t *testing.T) {
	id, err := ParseNodeID("")
	require.NoError(t, err)
	assert.True(t, id.IsNull())

	want := NewNodeID()
	got, err := ParseNodeID(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseNodeID("not-an-id")
	assert.Error(t, err)
}

func TestDefaultParticipants(t *testing.T) {
	p := DefaultParticipants()
	assert.Equal(t, "Ollama", p.DisplayFor(RoleAssistant))
	assert.Equal(t, "tool", Participants{}.DisplayFor(Role("tool")))
}
