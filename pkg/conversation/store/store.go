// Package store persists conversations keyed by their id.
//
// A Store is a plain key-value collaborator: Get returns the last conversation written with
// Set, or reports a miss. Stores keep conversations of different clients apart with a
// namespace prefix.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/pkg/errors"
)

const DefaultNamespace = "ollama"

var (
	ErrClosed = errors.New("store is closed")
	// ErrNotFound is returned by callers that require a conversation to exist. Get reports
	// a miss with its boolean instead.
	ErrNotFound = errors.New("conversation not found")
)

type Store interface {
	// Get returns the stored conversation, false on a miss.
	Get(ctx context.Context, id string) (*conversation.Conversation, bool, error)
	Set(ctx context.Context, id string, c *conversation.Conversation) error
}

// Lister is implemented by stores that can enumerate the conversations they hold.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

type Closer interface {
	Close() error
}

type Type string

const (
	TypeMemory Type = "memory"
	TypeFile   Type = "file"
	TypeBolt   Type = "bolt"
	TypeSQLite Type = "sqlite"
)

// Settings selects and configures a store implementation.
type Settings struct {
	Type       Type   `yaml:"type" mapstructure:"type"`
	Path       string `yaml:"path" mapstructure:"path"`
	Namespace  string `yaml:"namespace" mapstructure:"namespace"`
	MaxEntries int    `yaml:"max_entries" mapstructure:"max-entries"`
}

// New builds the store described by settings.
func New(s Settings) (Store, error) {
	ns := s.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	switch s.Type {
	case TypeMemory, "":
		opts := []MemoryOption{WithMemoryNamespace(ns)}
		if s.MaxEntries > 0 {
			opts = append(opts, WithMemoryMaxEntries(s.MaxEntries))
		}
		return NewMemoryStore(opts...), nil
	case TypeFile:
		opts := []FileOption{WithFileNamespace(ns)}
		if s.Path != "" {
			opts = append(opts, WithDirectory(s.Path))
		}
		if s.MaxEntries > 0 {
			opts = append(opts, WithMaxEntries(s.MaxEntries))
		}
		return NewFileStore(opts...)
	case TypeBolt:
		if s.Path == "" {
			return nil, errors.New("bolt store: empty path")
		}
		return NewBoltStore(s.Path, ns)
	case TypeSQLite:
		if s.Path == "" {
			return nil, errors.New("sqlite store: empty path")
		}
		return NewSQLiteStore(s.Path, ns)
	default:
		return nil, errors.Errorf("unknown store type %q", s.Type)
	}
}

func namespacedKey(namespace, id string) string {
	return fmt.Sprintf("%s:%s", namespace, id)
}

func idFromKey(namespace, key string) (string, bool) {
	prefix := namespace + ":"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}
