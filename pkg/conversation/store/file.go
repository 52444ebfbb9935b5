package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const fileSuffix = ".json"

// FileStore writes one JSON document per conversation under directory/namespace.
type FileStore struct {
	directory  string
	namespace  string
	maxEntries int
	mu         sync.RWMutex
}

type FileOption func(*FileStore)

func WithDirectory(dir string) FileOption {
	return func(s *FileStore) {
		if dir != "" {
			s.directory = dir
		}
	}
}

func WithFileNamespace(namespace string) FileOption {
	return func(s *FileStore) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

// WithMaxEntries bounds the number of stored conversations, 0 disables eviction.
func WithMaxEntries(count int) FileOption {
	return func(s *FileStore) {
		s.maxEntries = count
	}
}

var _ Store = (*FileStore)(nil)
var _ Lister = (*FileStore)(nil)

func NewFileStore(opts ...FileOption) (*FileStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get home directory")
	}

	s := &FileStore{
		directory: filepath.Join(homeDir, ".ollachat", "conversations"),
		namespace: DefaultNamespace,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.dir(), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create store directory %s", s.dir())
	}

	return s, nil
}

func (s *FileStore) dir() string {
	return filepath.Join(s.directory, s.namespace)
}

// ids are hex encoded so that any caller supplied id maps to a safe file name
func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir(), hex.EncodeToString([]byte(id))+fileSuffix)
}

func (s *FileStore) Get(ctx context.Context, id string) (*conversation.Conversation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path := s.path(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("file store miss")
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to read conversation file")
	}

	var c conversation.Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, errors.Wrapf(err, "corrupted conversation file %s", path)
	}

	log.Debug().
		Str("path", path).
		Int("messageCount", len(c.Messages)).
		Msg("file store hit")

	return &c, true, nil
}

func (s *FileStore) Set(ctx context.Context, id string, c *conversation.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal conversation")
	}
	path := s.path(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	// write to a temporary file first so readers never see a half written conversation
	tmp, err := os.CreateTemp(s.dir(), ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write conversation file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close conversation file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to move conversation file into place")
	}

	log.Debug().
		Str("path", path).
		Int("messageCount", len(c.Messages)).
		Int("dataSize", len(data)).
		Msg("wrote conversation")

	if err := s.enforceSize(path); err != nil {
		log.Error().Err(err).Msg("failed to enforce store size limits")
	}

	return nil
}

func (s *FileStore) enforceSize(keep string) error {
	if s.maxEntries <= 0 {
		return nil
	}

	entries, err := os.ReadDir(s.dir())
	if err != nil {
		return errors.Wrap(err, "failed to read store directory")
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	var files []fileInfo
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(s.dir(), entry.Name()),
			modTime: info.ModTime(),
		})
	}

	// oldest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	excess := len(files) - s.maxEntries
	for _, f := range files {
		if excess <= 0 {
			break
		}
		if f.path == keep {
			continue
		}
		if err := os.Remove(f.path); err != nil {
			return errors.Wrap(err, "failed to remove conversation file")
		}
		excess--
		log.Debug().Str("path", f.path).Msg("evicted conversation file")
	}

	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read store directory")
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, nil
}
