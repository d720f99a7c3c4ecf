package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kanpai/internal/types"
)

// startVote creates a vote from a mention command and announces it. A group
// already voting gets a pointer to the open vote instead of a new one.
func (e *Engine) startVote(ctx context.Context, groupID string, options []string, replyToken string) error {
	if len(options) < 2 {
		return fmt.Errorf("vote needs at least 2 options, got %d", len(options))
	}

	vote := &types.Vote{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Question:  strings.Join(options, " vs "),
		Options:   options,
		Ballots:   map[string]int{},
		Status:    types.VoteActive,
		CreatedAt: time.Now(),
	}
	if err := e.store.CreateVote(vote); err != nil {
		e.logger.Info("vote creation rejected",
			zap.String("group", groupID), zap.Error(err))
		return e.deliver(ctx, groupID, replyToken,
			"いま別の投票をやってるよ！先にそっちを決めよう🗳")
	}

	var lines []string
	lines = append(lines, "📊 投票スタート！", "", vote.Question, "")
	for i, opt := range options {
		lines = append(lines, fmt.Sprintf("%d️⃣ %s", i+1, opt))
	}
	lines = append(lines, "", "番号で投票してね！（1時間で締め切ります）")

	e.logger.Info("vote started",
		zap.String("group", groupID), zap.String("vote", vote.ID),
		zap.Strings("options", options))
	return e.deliver(ctx, groupID, replyToken, strings.Join(lines, "\n"))
}

// recordBallot applies one ballot. Out-of-range digits are ignored as
// ordinary chat. Last ballot per participant wins. Reaching quorum closes
// the vote immediately.
func (e *Engine) recordBallot(ctx context.Context, state *types.GroupState, userID string, idx int, replyToken string) error {
	vote, err := e.store.GetVote(state.ActiveVoteID)
	if err != nil {
		return err
	}
	if vote == nil || vote.Status != types.VoteActive {
		return nil
	}
	if idx < 0 || idx >= len(vote.Options) {
		return nil
	}

	vote.Ballots[userID] = idx
	if err := e.store.SaveBallots(vote.ID, vote.Ballots); err != nil {
		return err
	}
	e.logger.Debug("ballot recorded",
		zap.String("vote", vote.ID), zap.String("user", userID), zap.Int("option", idx))

	if len(vote.Ballots) >= e.opts.VoteQuorum {
		return e.closeAndAnnounce(ctx, vote, replyToken)
	}
	// Ballots below quorum are recorded silently.
	return nil
}

// closeAndAnnounce closes the vote and publishes the tally. The conditional
// close makes this safe to race with the timeout sweep: only the winner of
// the transition announces.
func (e *Engine) closeAndAnnounce(ctx context.Context, vote *types.Vote, replyToken string) error {
	won, err := e.store.CloseVote(vote.ID, time.Now())
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	counts, winner := tally(vote)
	text := e.brain.VoteResult(ctx, vote, counts, winner)
	e.logger.Info("vote closed",
		zap.String("vote", vote.ID), zap.String("group", vote.GroupID),
		zap.Int("winner", winner), zap.Int("ballots", len(vote.Ballots)))
	return e.deliver(ctx, vote.GroupID, replyToken, text)
}

// tally counts ballots per option. Ties go to the earliest-declared option:
// the strict > keeps the lowest index on equal counts.
func tally(vote *types.Vote) (counts []int, winner int) {
	counts = make([]int, len(vote.Options))
	for _, idx := range vote.Ballots {
		if idx >= 0 && idx < len(counts) {
			counts[idx]++
		}
	}
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[winner] {
			winner = i
		}
	}
	return counts, winner
}
