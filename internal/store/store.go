// Package store is the SQLite record store backing the orchestration
// engine: group states, message log, members, food history, votes,
// collection sessions, and the venue lookup cache.
//
// All reads that feed lifecycle decisions carry a freshness predicate
// (status + expires_at / created_at cutoffs) so duplicate or late callers
// observe consistent state. Status transitions are conditional UPDATEs;
// the affected-row count tells the caller whether it won the transition.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps the SQLite database. A single writer connection with WAL
// keeps per-entity updates serialized at the database level; the engine
// additionally serializes per group.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open initializes the SQLite database at path, creating the schema if
// needed. Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set journal_mode=WAL", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logger.Debug("failed to set synchronous=NORMAL", zap.Error(err))
	}

	s := &Store{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS group_states (
		group_id         TEXT PRIMARY KEY,
		mode             TEXT NOT NULL DEFAULT 'idle',
		active_vote_id   TEXT NOT NULL DEFAULT '',
		last_bot_message TIMESTAMP,
		last_activity    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id     TEXT NOT NULL,
		user_id      TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		text         TEXT NOT NULL,
		from_bot     INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_group ON messages(group_id, created_at);

	CREATE TABLE IF NOT EXISTS members (
		group_id     TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS food_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id    TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		item        TEXT NOT NULL,
		category    TEXT NOT NULL DEFAULT '',
		raw_message TEXT NOT NULL DEFAULT '',
		eaten_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_food_group ON food_history(group_id, eaten_at);

	CREATE TABLE IF NOT EXISTS votes (
		id         TEXT PRIMARY KEY,
		group_id   TEXT NOT NULL,
		question   TEXT NOT NULL,
		options    TEXT NOT NULL,
		ballots    TEXT NOT NULL DEFAULT '{}',
		status     TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		closed_at  TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_votes_status ON votes(status, created_at);

	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		group_id   TEXT NOT NULL,
		initiator  TEXT NOT NULL DEFAULT '',
		roster     TEXT NOT NULL,
		responses  TEXT NOT NULL DEFAULT '{}',
		status     TEXT NOT NULL DEFAULT 'collecting',
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, expires_at);

	CREATE TABLE IF NOT EXISTS venue_cache (
		cache_key  TEXT PRIMARY KEY,
		results    TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal failed: %w", err)
	}
	return string(data), nil
}
