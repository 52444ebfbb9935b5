package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-go-golems/ollachat/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const sqliteConversationsSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    namespace TEXT NOT NULL,
    id TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (namespace, id)
);
`

// SQLiteStore persists conversations in a SQLite database.
//
// Each conversation is one JSON payload row, so the message shape can change without
// touching the SQL schema.
type SQLiteStore struct {
	mu        sync.RWMutex
	db        *sql.DB
	namespace string
	closed    bool
}

var _ Store = (*SQLiteStore)(nil)
var _ Lister = (*SQLiteStore)(nil)
var _ Closer = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path. ":memory:" is accepted for tests.
func NewSQLiteStore(path string, namespace string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "creating database directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:        db,
		namespace: namespace,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Str("namespace", namespace).Msg("sqlite store initialized")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(sqliteConversationsSchemaV1); err != nil {
		return errors.Wrap(err, "creating schema")
	}
	return nil
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed || s.db == nil {
		return ErrClosed
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*conversation.Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, false, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json FROM conversations WHERE namespace = ? AND id = ?`,
		s.namespace, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		log.Debug().Str("id", id).Msg("sqlite store miss")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "querying conversation %s", id)
	}

	var c conversation.Conversation
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, false, errors.Wrapf(err, "decoding conversation %s", id)
	}
	return &c, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, id string, c *conversation.Conversation) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshaling conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations (namespace, id, payload_json, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(namespace, id) DO UPDATE SET
    payload_json = excluded.payload_json,
    updated_at_ms = excluded.updated_at_ms
`, s.namespace, id, string(payload), c.CreatedAt.UnixMilli(), now)
	if err != nil {
		return errors.Wrapf(err, "writing conversation %s", id)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE namespace = ? ORDER BY id ASC`, s.namespace)
	if err != nil {
		return nil, errors.Wrap(err, "listing conversations")
	}
	defer func() {
		_ = rows.Close()
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning conversation id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
