package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kanpai/internal/types"
)

// CreateSession inserts a collecting session. Fails if the group already
// has a live (collecting, unexpired) session: one session per group.
func (s *Store) CreateSession(sess *types.CollectionSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRow(
		`SELECT id FROM sessions WHERE group_id = ? AND status = ? AND expires_at > ?`,
		sess.GroupID, string(types.SessionCollecting), time.Now().UTC()).Scan(&existing)
	if err == nil {
		return fmt.Errorf("group %s already has an active session %s", sess.GroupID, existing)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check active session: %w", err)
	}

	roster, err := marshalJSON(sess.Roster)
	if err != nil {
		return err
	}
	responses, err := marshalJSON(sess.Responses)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (id, group_id, initiator, roster, responses, status, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.GroupID, sess.Initiator, roster, responses,
		string(types.SessionCollecting), sess.ExpiresAt.UTC(), sess.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession loads a session by ID. Returns nil when not found.
func (s *Store) GetSession(id string) (*types.CollectionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanSession(s.db.QueryRow(
		`SELECT id, group_id, initiator, roster, responses, status, expires_at, created_at
		 FROM sessions WHERE id = ?`, id))
}

func (s *Store) scanSession(row rowScanner) (*types.CollectionSession, error) {
	var sess types.CollectionSession
	var roster, responses, status string
	if err := row.Scan(&sess.ID, &sess.GroupID, &sess.Initiator, &roster, &responses,
		&status, &sess.ExpiresAt, &sess.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(roster), &sess.Roster); err != nil {
		return nil, fmt.Errorf("corrupt session roster: %w", err)
	}
	if err := json.Unmarshal([]byte(responses), &sess.Responses); err != nil {
		return nil, fmt.Errorf("corrupt session responses: %w", err)
	}
	sess.Status = types.SessionStatus(status)
	return &sess, nil
}

// SessionByParticipant finds the live session whose roster contains the
// participant. This routes direct-message answers: a private reply carries
// no group ID, only the sender.
func (s *Store) SessionByParticipant(userID string, now time.Time) (*types.CollectionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, group_id, initiator, roster, responses, status, expires_at, created_at
		 FROM sessions WHERE status = ? AND expires_at > ?
		 ORDER BY created_at DESC`,
		string(types.SessionCollecting), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list live sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		for _, id := range sess.Roster {
			if id == userID {
				return sess, nil
			}
		}
	}
	return nil, rows.Err()
}

// SaveResponses persists the response map of a collecting session. A
// completed session is left untouched.
func (s *Store) SaveResponses(sessionID string, responses map[string][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := marshalJSON(responses)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE sessions SET responses = ? WHERE id = ? AND status = ?`,
		data, sessionID, string(types.SessionCollecting))
	if err != nil {
		return fmt.Errorf("failed to save responses: %w", err)
	}
	return nil
}

// CompleteSession marks a session completed. The conditional UPDATE makes
// completion idempotent: only the caller that wins the transition gets
// true, so aggregation runs exactly once no matter how many sweep passes
// hit an expired session.
func (s *Store) CompleteSession(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sessions SET status = ? WHERE id = ? AND status = ?`,
		string(types.SessionCompleted), sessionID, string(types.SessionCollecting))
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ExpiredSessions returns collecting sessions whose expiry has passed.
func (s *Store) ExpiredSessions(now time.Time) ([]types.CollectionSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, group_id, initiator, roster, responses, status, expires_at, created_at
		 FROM sessions WHERE status = ? AND expires_at <= ?`,
		string(types.SessionCollecting), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var out []types.CollectionSession
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}
