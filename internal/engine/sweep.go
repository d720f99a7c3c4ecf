package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kanpai/internal/brain"
	"kanpai/internal/signal"
	"kanpai/internal/types"
)

// jst locates the quiet-hours check; silence interventions never fire
// between 23:00 and 08:00 Japan time.
var jst = time.FixedZone("JST", 9*60*60)

const (
	nightStartHour = 23
	nightEndHour   = 8

	// silenceCeiling: a group quiet for a day or more is dormant, not
	// mid-decision; poking it would be noise.
	silenceCeiling = 24 * time.Hour

	// stalemateMinWindow: stalemate detection needs enough context to
	// distinguish a stuck decision from two throwaway replies.
	stalemateMinWindow = 4
)

// SweepSessions completes expired collection sessions. Safe to run on any
// cadence: the status transition inside TryComplete makes repeats no-ops.
func (e *Engine) SweepSessions(ctx context.Context) {
	now := time.Now()
	expired, err := e.store.ExpiredSessions(now)
	if err != nil {
		e.logger.Warn("session sweep failed", zap.Error(err))
		return
	}
	for _, sess := range expired {
		agg, err := e.collector.TryComplete(sess.ID, now)
		if err != nil {
			e.logger.Warn("session completion failed",
				zap.String("session", sess.ID), zap.Error(err))
			continue
		}
		if agg == nil {
			continue
		}
		e.announceCollection(ctx, sess.GroupID, *agg)
	}
}

// SweepVotes closes votes that outlived the timeout and announces their
// tallies.
func (e *Engine) SweepVotes(ctx context.Context) {
	expired, err := e.store.ExpiredVotes(time.Now().Add(-e.opts.VoteTimeout))
	if err != nil {
		e.logger.Warn("vote sweep failed", zap.Error(err))
		return
	}
	for i := range expired {
		if err := e.closeAndAnnounce(ctx, &expired[i], ""); err != nil {
			e.logger.Warn("vote close failed",
				zap.String("vote", expired[i].ID), zap.Error(err))
		}
	}
}

// MonitorGroups checks every recently active group for a stalemate or a
// long silence and intervenes through the throttle. Groups mid-vote are
// left alone; the vote already structures the decision.
func (e *Engine) MonitorGroups(ctx context.Context) {
	since := time.Now().AddDate(0, 0, -e.opts.ActiveGroupDays)
	groups, err := e.store.ActiveGroups(since)
	if err != nil {
		e.logger.Warn("group monitor failed", zap.Error(err))
		return
	}
	for _, g := range groups {
		if g.Mode == types.ModeVoting {
			continue
		}
		if err := e.checkGroup(ctx, g); err != nil {
			e.logger.Warn("group check failed",
				zap.String("group", g.GroupID), zap.Error(err))
		}
	}
}

func (e *Engine) checkGroup(ctx context.Context, g types.GroupState) error {
	recent, err := e.store.RecentMessages(g.GroupID, 10)
	if err != nil {
		return err
	}

	if len(recent) >= stalemateMinWindow && signal.DetectStalemate(recent) {
		if text, ok := e.brain.Intervene(ctx, recent, brain.InterventionStalemate); ok {
			if sent, err := e.Say(ctx, g.GroupID, text); err != nil {
				return err
			} else if sent {
				e.logger.Info("stalemate intervention", zap.String("group", g.GroupID))
			}
		}
		return nil
	}

	silence := time.Since(g.LastActivity)
	if silence < e.opts.SilenceAfter || silence >= silenceCeiling {
		return nil
	}
	if isNightJST(time.Now()) {
		return nil
	}
	if text, ok := e.brain.Intervene(ctx, recent, brain.InterventionSilence); ok {
		if sent, err := e.Say(ctx, g.GroupID, text); err != nil {
			return err
		} else if sent {
			e.logger.Info("silence intervention", zap.String("group", g.GroupID))
		}
	}
	return nil
}

func isNightJST(now time.Time) bool {
	h := now.In(jst).Hour()
	return h >= nightStartHour || h < nightEndHour
}

// Run drives the three sweeps on their cadences until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.tick(ctx, e.opts.SessionSweep, e.SweepSessions)
	})
	g.Go(func() error {
		return e.tick(ctx, e.opts.VoteSweep, e.SweepVotes)
	})
	g.Go(func() error {
		return e.tick(ctx, e.opts.MonitorSweep, e.MonitorGroups)
	})

	e.logger.Info("sweep scheduler started",
		zap.Duration("sessions", e.opts.SessionSweep),
		zap.Duration("votes", e.opts.VoteSweep),
		zap.Duration("monitor", e.opts.MonitorSweep))
	return g.Wait()
}

func (e *Engine) tick(ctx context.Context, every time.Duration, fn func(context.Context)) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			fn(ctx)
		}
	}
}
