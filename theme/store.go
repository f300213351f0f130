package theme

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/hazyhaar/dashctl/dbopen"
)

// MemoryStore keeps the preference in memory.
type MemoryStore struct {
	mu    sync.Mutex
	value string
	set   bool
}

func (m *MemoryStore) Load(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.set, nil
}

func (m *MemoryStore) Save(_ context.Context, v string) error {
	m.mu.Lock()
	m.value, m.set = v, true
	m.mu.Unlock()
	return nil
}

// Schema creates the preferences table.
const Schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// PreferenceKey is the row the theme lives in.
const PreferenceKey = "theme"

// SQLStore persists the preference in the preferences table.
type SQLStore struct {
	DB  *sql.DB
	Key string // default PreferenceKey
}

// NewSQLStore applies Schema and returns a store.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, err
	}
	return &SQLStore{DB: db, Key: PreferenceKey}, nil
}

func (s *SQLStore) key() string {
	if s.Key == "" {
		return PreferenceKey
	}
	return s.Key
}

func (s *SQLStore) Load(ctx context.Context) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, s.key()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLStore) Save(ctx context.Context, v string) error {
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key(), v, time.Now().UnixMilli())
	return err
}
