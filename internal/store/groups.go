package store

import (
	"database/sql"
	"fmt"
	"time"

	"kanpai/internal/types"
)

// GetGroupState returns the state row for a group, creating an idle row on
// first observation.
func (s *Store) GetGroupState(groupID string) (*types.GroupState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.scanGroupState(groupID)
	if err == nil {
		return st, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read group state: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO group_states (group_id, mode, active_vote_id, last_activity) VALUES (?, ?, '', ?)
		 ON CONFLICT(group_id) DO NOTHING`,
		groupID, string(types.ModeIdle), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create group state: %w", err)
	}
	return s.scanGroupState(groupID)
}

func (s *Store) scanGroupState(groupID string) (*types.GroupState, error) {
	row := s.db.QueryRow(
		`SELECT group_id, mode, active_vote_id, last_bot_message, last_activity
		 FROM group_states WHERE group_id = ?`, groupID)

	var st types.GroupState
	var mode string
	var lastBot sql.NullTime
	if err := row.Scan(&st.GroupID, &mode, &st.ActiveVoteID, &lastBot, &st.LastActivity); err != nil {
		return nil, err
	}
	st.Mode = types.GroupMode(mode)
	if lastBot.Valid {
		st.LastBotMessage = lastBot.Time
	}
	return &st, nil
}

// SetGroupMode transitions a group between idle and voting, keeping the
// mode/activeVoteID invariant in a single statement.
func (s *Store) SetGroupMode(groupID string, mode types.GroupMode, activeVoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE group_states SET mode = ?, active_vote_id = ? WHERE group_id = ?`,
		string(mode), activeVoteID, groupID)
	if err != nil {
		return fmt.Errorf("failed to set group mode: %w", err)
	}
	return nil
}

// TouchActivity stamps the last human activity time for a group.
func (s *Store) TouchActivity(groupID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE group_states SET last_activity = ? WHERE group_id = ?`, at.UTC(), groupID)
	if err != nil {
		return fmt.Errorf("failed to touch activity: %w", err)
	}
	return nil
}

// StampBotMessage records a successful autonomous send. Both timestamps
// move so the throttle and the silence monitor stay consistent.
func (s *Store) StampBotMessage(groupID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE group_states SET last_bot_message = ?, last_activity = ? WHERE group_id = ?`,
		at.UTC(), at.UTC(), groupID)
	if err != nil {
		return fmt.Errorf("failed to stamp bot message: %w", err)
	}
	return nil
}

// ActiveGroups returns states for groups with human activity since the
// cutoff. Used by the group monitor sweep.
func (s *Store) ActiveGroups(since time.Time) ([]types.GroupState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT group_id, mode, active_vote_id, last_bot_message, last_activity
		 FROM group_states WHERE last_activity >= ?`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list active groups: %w", err)
	}
	defer rows.Close()

	var out []types.GroupState
	for rows.Next() {
		var st types.GroupState
		var mode string
		var lastBot sql.NullTime
		if err := rows.Scan(&st.GroupID, &mode, &st.ActiveVoteID, &lastBot, &st.LastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan group state: %w", err)
		}
		st.Mode = types.GroupMode(mode)
		if lastBot.Valid {
			st.LastBotMessage = lastBot.Time
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
