package collect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kanpai/internal/store"
	"kanpai/internal/types"
)

// Messenger is the delivery surface the collector needs: a push to one
// recipient (user or group).
type Messenger interface {
	PushText(ctx context.Context, to, text string) error
}

// Collector drives collection sessions end to end: dispatch, answer
// routing, and aggregation.
type Collector struct {
	store     *store.Store
	messenger Messenger
	expiry    time.Duration
	logger    *zap.Logger
}

// New creates a Collector.
func New(st *store.Store, messenger Messenger, expiry time.Duration, logger *zap.Logger) *Collector {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{store: st, messenger: messenger, expiry: expiry, logger: logger}
}

// Start opens a session for the group and fans the first question out to
// the roster. Fails when the group already has a live session. A member
// the push cannot reach (never friended the bot) is logged and skipped;
// the session proceeds with whoever is reachable.
func (c *Collector) Start(ctx context.Context, groupID, initiator string, roster []string) (*types.CollectionSession, error) {
	if len(roster) == 0 {
		return nil, fmt.Errorf("empty roster for group %s", groupID)
	}

	now := time.Now()
	sess := &types.CollectionSession{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Initiator: initiator,
		Roster:    roster,
		Responses: map[string][]string{},
		Status:    types.SessionCollecting,
		ExpiresAt: now.Add(c.expiry),
		CreatedAt: now,
	}
	if err := c.store.CreateSession(sess); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, userID := range roster {
		g.Go(func() error {
			if err := c.messenger.PushText(gctx, userID, Steps[0].Prompt); err != nil {
				c.logger.Warn("questionnaire push failed",
					zap.String("session", sess.ID), zap.String("user", userID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("collection session started",
		zap.String("session", sess.ID), zap.String("group", groupID),
		zap.Int("roster", len(roster)))
	return sess, nil
}

// HandleAnswer routes one direct message. Returns the session the answer
// belongs to, or nil when the sender has no live session and the caller
// should treat the message as ordinary chat. The save below rewrites the
// whole response map, so concurrent answers for one session must be
// serialized by the caller.
func (c *Collector) HandleAnswer(ctx context.Context, userID, text string) (*types.CollectionSession, error) {
	sess, err := c.store.SessionByParticipant(userID, time.Now())
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	answers := sess.Responses[userID]
	if len(answers) >= len(Steps) {
		// Already finished; stay quiet.
		return sess, nil
	}
	step := Steps[len(answers)]

	answer := strings.TrimSpace(text)
	if !step.Allowed[answer] {
		if err := c.messenger.PushText(ctx, userID, "数字で答えてね！\n\n"+step.Prompt); err != nil {
			c.logger.Warn("re-prompt push failed", zap.String("user", userID), zap.Error(err))
		}
		return sess, nil
	}

	answers = append(answers, answer)
	sess.Responses[userID] = answers
	if err := c.store.SaveResponses(sess.ID, sess.Responses); err != nil {
		return sess, err
	}

	next := doneMessage
	if len(answers) < len(Steps) {
		next = Steps[len(answers)].Prompt
	}
	if err := c.messenger.PushText(ctx, userID, next); err != nil {
		c.logger.Warn("questionnaire push failed", zap.String("user", userID), zap.Error(err))
	}
	return sess, nil
}

// TryComplete aggregates the session if it is finished (every roster member
// answered all steps) or expired. The status transition guards aggregation:
// only the caller that wins it gets the Aggregate, everyone else gets nil.
func (c *Collector) TryComplete(sessionID string, now time.Time) (*Aggregate, error) {
	sess, err := c.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Status != types.SessionCollecting {
		return nil, nil
	}

	if !allFinished(sess) && now.Before(sess.ExpiresAt) {
		return nil, nil
	}

	won, err := c.store.CompleteSession(sessionID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, nil
	}

	agg := aggregate(sess)
	c.logger.Info("collection session aggregated",
		zap.String("session", sessionID), zap.Int("answered", agg.Answered),
		zap.String("budget", agg.Budget), zap.String("genre", agg.Genre))
	return &agg, nil
}

func allFinished(sess *types.CollectionSession) bool {
	for _, userID := range sess.Roster {
		if len(sess.Responses[userID]) < len(Steps) {
			return false
		}
	}
	return true
}

// aggregate merges partial and complete responses: per step, the most
// frequent answer wins, ties broken by roster-order first appearance.
func aggregate(sess *types.CollectionSession) Aggregate {
	top := make([]string, len(Steps))
	for i := range Steps {
		counts := map[string]int{}
		var order []string
		for _, userID := range sess.Roster {
			answers := sess.Responses[userID]
			if len(answers) <= i {
				continue
			}
			a := answers[i]
			if counts[a] == 0 {
				order = append(order, a)
			}
			counts[a]++
		}
		best := ""
		for _, a := range order {
			if best == "" || counts[a] > counts[best] {
				best = a
			}
		}
		top[i] = best
	}

	answered := 0
	for _, userID := range sess.Roster {
		if len(sess.Responses[userID]) > 0 {
			answered++
		}
	}

	agg := Aggregate{Budget: top[0], Genre: top[1], Answered: answered}
	budgetLabel, genreLabel := agg.Labels()
	agg.Summary = fmt.Sprintf(
		"📊 みんなの本音を集めたよ（%d人が回答）\n\n💰 予算：%s\n🍽️ ジャンル：%s\n\nこの条件でお店を探すね！",
		answered, budgetLabel, genreLabel)
	return agg
}
