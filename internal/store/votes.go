package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"kanpai/internal/types"
)

// CreateVote inserts an active vote and flips the group to voting mode in
// one transaction. Fails if the group already has an active vote.
func (s *Store) CreateVote(v *types.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var mode string
	err = tx.QueryRow(`SELECT mode FROM group_states WHERE group_id = ?`, v.GroupID).Scan(&mode)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read group mode: %w", err)
	}
	if mode == string(types.ModeVoting) {
		return fmt.Errorf("group %s already has an active vote", v.GroupID)
	}

	options, err := marshalJSON(v.Options)
	if err != nil {
		return err
	}
	ballots, err := marshalJSON(v.Ballots)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO votes (id, group_id, question, options, ballots, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.GroupID, v.Question, options, ballots, string(types.VoteActive), v.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE group_states SET mode = ?, active_vote_id = ? WHERE group_id = ?`,
		string(types.ModeVoting), v.ID, v.GroupID); err != nil {
		return fmt.Errorf("failed to set voting mode: %w", err)
	}
	return tx.Commit()
}

// GetVote loads a vote by ID.
func (s *Store) GetVote(id string) (*types.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanVote(s.db.QueryRow(
		`SELECT id, group_id, question, options, ballots, status, created_at, closed_at
		 FROM votes WHERE id = ?`, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanVote(row rowScanner) (*types.Vote, error) {
	var v types.Vote
	var options, ballots, status string
	var closedAt sql.NullTime
	if err := row.Scan(&v.ID, &v.GroupID, &v.Question, &options, &ballots, &status, &v.CreatedAt, &closedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan vote: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &v.Options); err != nil {
		return nil, fmt.Errorf("corrupt vote options: %w", err)
	}
	if err := json.Unmarshal([]byte(ballots), &v.Ballots); err != nil {
		return nil, fmt.Errorf("corrupt vote ballots: %w", err)
	}
	v.Status = types.VoteStatus(status)
	if closedAt.Valid {
		v.ClosedAt = closedAt.Time
	}
	return &v, nil
}

// SaveBallots persists the ballot map of an active vote. A closed vote is
// left untouched (late ballots are a no-op, not an error).
func (s *Store) SaveBallots(voteID string, ballots map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := marshalJSON(ballots)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE votes SET ballots = ? WHERE id = ? AND status = ?`,
		data, voteID, string(types.VoteActive))
	if err != nil {
		return fmt.Errorf("failed to save ballots: %w", err)
	}
	return nil
}

// CloseVote marks a vote closed and returns the group to idle. The
// conditional UPDATE makes closing idempotent: the return value reports
// whether this caller performed the transition.
func (s *Store) CloseVote(voteID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE votes SET status = ?, closed_at = ? WHERE id = ? AND status = ?`,
		string(types.VoteClosed), at.UTC(), voteID, string(types.VoteActive))
	if err != nil {
		return false, fmt.Errorf("failed to close vote: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil // already closed
	}

	if _, err := tx.Exec(
		`UPDATE group_states SET mode = ?, active_vote_id = ''
		 WHERE active_vote_id = ?`,
		string(types.ModeIdle), voteID); err != nil {
		return false, fmt.Errorf("failed to return group to idle: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ExpiredVotes returns active votes created before the cutoff.
func (s *Store) ExpiredVotes(before time.Time) ([]types.Vote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, group_id, question, options, ballots, status, created_at, closed_at
		 FROM votes WHERE status = ? AND created_at < ?`,
		string(types.VoteActive), before.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list expired votes: %w", err)
	}
	defer rows.Close()

	var out []types.Vote
	for rows.Next() {
		v, err := s.scanVote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}
