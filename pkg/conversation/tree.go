package conversation

// ResolveContext reconstructs the linear thread that ends at parentID, ordered root to leaf.
//
// If parentID is NullNode, the most recently appended message is used as the leaf. If
// parentID does not match any message, the result is empty: the caller starts a fresh branch.
// The walk follows ParentID links, not slice order, and never mutates a message.
func ResolveContext(messages []*Message, parentID NodeID) Thread {
	if len(messages) == 0 {
		return nil
	}
	if parentID == NullNode {
		parentID = messages[len(messages)-1].ID
	}

	nodes := make(map[NodeID]*Message, len(messages))
	for _, m := range messages {
		nodes[m.ID] = m
	}

	var thread Thread
	visited := map[NodeID]struct{}{}
	for id := parentID; id != NullNode; {
		node, exists := nodes[id]
		if !exists {
			break
		}
		if _, seen := visited[id]; seen {
			// corrupted input with a cycle, stop rather than loop forever
			break
		}
		visited[id] = struct{}{}
		thread = append(thread, node)
		id = node.ParentID
	}

	for i, j := 0, len(thread)-1; i < j; i, j = i+1, j-1 {
		thread[i], thread[j] = thread[j], thread[i]
	}

	return thread
}

// Thread retrieves the linear conversation thread from root to the specified message.
func (c *Conversation) Thread(id NodeID) Thread {
	return ResolveContext(c.Messages, id)
}

// Children returns the messages that reply directly to id, in insertion order.
func (c *Conversation) Children(id NodeID) []*Message {
	var children []*Message
	for _, m := range c.Messages {
		if m.ParentID == id && m.ID != id {
			children = append(children, m)
		}
	}
	return children
}

// Siblings returns the other messages sharing the parent of id.
// Two root messages are siblings of each other.
func (c *Conversation) Siblings(id NodeID) []*Message {
	node, ok := c.Get(id)
	if !ok {
		return nil
	}

	var siblings []*Message
	for _, m := range c.Children(node.ParentID) {
		if m.ID != id {
			siblings = append(siblings, m)
		}
	}
	return siblings
}

// Leaves returns every message nobody replied to yet, one per branch tip, in insertion order.
func (c *Conversation) Leaves() []*Message {
	hasChild := make(map[NodeID]bool, len(c.Messages))
	for _, m := range c.Messages {
		hasChild[m.ParentID] = true
	}

	var leaves []*Message
	for _, m := range c.Messages {
		if !hasChild[m.ID] {
			leaves = append(leaves, m)
		}
	}
	return leaves
}
