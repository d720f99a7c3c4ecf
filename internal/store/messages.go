package store

import (
	"fmt"
	"time"

	"kanpai/internal/types"
)

// LogMessage appends a group message to the log.
func (s *Store) LogMessage(m types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (group_id, user_id, display_name, text, from_bot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.GroupID, m.UserID, m.DisplayName, m.Text, boolToInt(m.FromBot), at.UTC())
	if err != nil {
		return fmt.Errorf("failed to log message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages for a group in
// chronological order (oldest first), matching how the extraction window
// and LLM context consume them.
func (s *Store) RecentMessages(groupID string, limit int) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT group_id, user_id, display_name, text, from_bot, created_at
		 FROM messages WHERE group_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var fromBot int
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.DisplayName, &m.Text, &fromBot, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.FromBot = fromBot != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// UpsertMember records or refreshes a group member's display name.
func (s *Store) UpsertMember(groupID, userID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO members (group_id, user_id, display_name, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id, user_id) DO UPDATE SET display_name = excluded.display_name, updated_at = excluded.updated_at`,
		groupID, userID, displayName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// Members returns the known participant IDs for a group. This is the roster
// source for collection sessions.
func (s *Store) Members(groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT user_id FROM members WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordFood appends a food-history row.
func (s *Store) RecordFood(r types.FoodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := r.EatenAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO food_history (group_id, user_id, item, category, raw_message, eaten_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.GroupID, r.UserID, r.Item, r.Category, r.RawText, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record food: %w", err)
	}
	return nil
}

// FoodHistory returns the group's meals since the cutoff, newest first.
func (s *Store) FoodHistory(groupID string, since time.Time) ([]types.FoodRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT group_id, user_id, item, category, raw_message, eaten_at
		 FROM food_history WHERE group_id = ? AND eaten_at >= ?
		 ORDER BY eaten_at DESC`, groupID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to read food history: %w", err)
	}
	defer rows.Close()

	var out []types.FoodRecord
	for rows.Next() {
		var r types.FoodRecord
		if err := rows.Scan(&r.GroupID, &r.UserID, &r.Item, &r.Category, &r.RawText, &r.EatenAt); err != nil {
			return nil, fmt.Errorf("failed to scan food record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
