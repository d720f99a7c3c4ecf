package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kanpai/internal/types"
)

// CacheGet returns the cached venue list for key if it is still fresh.
// An expired entry is treated as a miss; it is not deleted eagerly because
// CachePut overwrites in place.
func (s *Store) CacheGet(key string, now time.Time) ([]types.Venue, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results string
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT results, expires_at FROM venue_cache WHERE cache_key = ?`, key).
		Scan(&results, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache: %w", err)
	}
	if !now.Before(expiresAt) {
		return nil, false, nil
	}

	var venues []types.Venue
	if err := json.Unmarshal([]byte(results), &venues); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry: %w", err)
	}
	return venues, true, nil
}

// CachePut writes or replaces a cache entry.
func (s *Store) CachePut(entry types.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	results, err := marshalJSON(entry.Results)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO venue_cache (cache_key, results, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET results = excluded.results, expires_at = excluded.expires_at`,
		entry.Key, results, entry.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}
