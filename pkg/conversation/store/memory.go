package store

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/rs/zerolog/log"
)

type memoryEntry struct {
	conversation *conversation.Conversation
	element      *list.Element // for LRU tracking
}

// MemoryStore keeps conversations in process memory, evicting the least recently used
// conversation once maxEntries is reached. Values are copied in and out so callers never
// share state with the store.
type MemoryStore struct {
	namespace  string
	cache      map[string]memoryEntry
	lruList    *list.List
	maxEntries int
	mu         sync.Mutex
}

type MemoryOption func(*MemoryStore)

func WithMemoryMaxEntries(count int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxEntries = count
	}
}

func WithMemoryNamespace(namespace string) MemoryOption {
	return func(s *MemoryStore) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

var _ Store = (*MemoryStore)(nil)
var _ Lister = (*MemoryStore)(nil)

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		namespace:  DefaultNamespace,
		cache:      make(map[string]memoryEntry),
		lruList:    list.New(),
		maxEntries: 1000, // reasonable default
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*conversation.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key := namespacedKey(s.namespace, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		log.Debug().Str("key", key).Msg("memory store miss")
		return nil, false, nil
	}
	s.lruList.MoveToFront(entry.element)

	return entry.conversation.Clone(), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, id string, c *conversation.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := namespacedKey(s.namespace, id)
	value := c.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.cache[key]; ok {
		s.lruList.MoveToFront(entry.element)
		s.cache[key] = memoryEntry{conversation: value, element: entry.element}
		return nil
	}

	// If we're at capacity, remove the least recently used conversation
	if s.maxEntries > 0 && s.lruList.Len() >= s.maxEntries {
		oldest := s.lruList.Back()
		if oldest != nil {
			oldestKey := oldest.Value.(string)
			delete(s.cache, oldestKey)
			s.lruList.Remove(oldest)
			log.Debug().Str("key", oldestKey).Msg("memory store evicted conversation")
		}
	}

	element := s.lruList.PushFront(key)
	s.cache[key] = memoryEntry{conversation: value, element: element}

	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.cache))
	for key := range s.cache {
		if id, ok := idFromKey(s.namespace, key); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
