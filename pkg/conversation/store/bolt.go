package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

// BoltStore keeps conversations in a BoltDB file, one bucket per namespace.
type BoltStore struct {
	mu     sync.RWMutex
	db     *bolt.DB
	bucket []byte
	closed bool
}

var _ Store = (*BoltStore)(nil)
var _ Lister = (*BoltStore)(nil)
var _ Closer = (*BoltStore)(nil)

func NewBoltStore(path string, namespace string) (*BoltStore, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating bolt directory")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt db %s", path)
	}

	s := &BoltStore{
		db:     db,
		bucket: []byte(namespace),
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating bolt bucket")
	}

	return s, nil
}

func (s *BoltStore) Get(ctx context.Context, id string) (*conversation.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	var c *conversation.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		c = &conversation.Conversation{}
		// v is only valid inside the transaction, decode before returning
		return json.Unmarshal(v, c)
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading conversation %s", id)
	}
	if c == nil {
		log.Debug().Str("id", id).Str("bucket", string(s.bucket)).Msg("bolt store miss")
		return nil, false, nil
	}

	return c, true, nil
}

func (s *BoltStore) Set(ctx context.Context, id string, c *conversation.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshaling conversation")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return errors.Wrapf(err, "writing conversation %s", id)
	}
	return nil
}

func (s *BoltStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing conversations")
	}
	return ids, nil
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
