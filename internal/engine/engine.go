// Package engine is the conversational orchestrator: it routes inbound
// events, runs the vote and collection lifecycles, applies the speech
// throttle, and drives the periodic sweeps. All mutations for one group go
// through that group's lock; cross-group work is uncoordinated.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kanpai/internal/brain"
	"kanpai/internal/collect"
	"kanpai/internal/signal"
	"kanpai/internal/store"
	"kanpai/internal/types"
	"kanpai/internal/venues"
)

// Messenger is the outbound delivery surface. ReplyText consumes a one-shot
// reply token; PushText addresses a user or group directly.
type Messenger interface {
	PushText(ctx context.Context, to, text string) error
	ReplyText(ctx context.Context, replyToken, text string) error
}

// Options tunes the engine. Zero values fall back to production defaults.
type Options struct {
	SpeechCooldown  time.Duration
	VoteQuorum      int
	VoteTimeout     time.Duration
	SilenceAfter    time.Duration
	ActiveGroupDays int
	SessionSweep    time.Duration
	VoteSweep       time.Duration
	MonitorSweep    time.Duration
}

func (o *Options) fill() {
	if o.SpeechCooldown <= 0 {
		o.SpeechCooldown = 60 * time.Minute
	}
	if o.VoteQuorum <= 0 {
		o.VoteQuorum = 3
	}
	if o.VoteTimeout <= 0 {
		o.VoteTimeout = time.Hour
	}
	if o.SilenceAfter <= 0 {
		o.SilenceAfter = 3 * time.Hour
	}
	if o.ActiveGroupDays <= 0 {
		o.ActiveGroupDays = 7
	}
	if o.SessionSweep <= 0 {
		o.SessionSweep = time.Minute
	}
	if o.VoteSweep <= 0 {
		o.VoteSweep = 15 * time.Minute
	}
	if o.MonitorSweep <= 0 {
		o.MonitorSweep = 30 * time.Minute
	}
}

// Engine wires the store, brain, venue chain, and collector behind the
// event and sweep entry points.
type Engine struct {
	store     *store.Store
	brain     *brain.Brain
	venues    *venues.Chain
	collector *collect.Collector
	messenger Messenger
	extractor *signal.Extractor
	opts      Options
	logger    *zap.Logger

	mu         sync.Mutex
	groupLocks map[string]*sync.Mutex
}

// New creates an Engine.
func New(st *store.Store, br *brain.Brain, ch *venues.Chain, col *collect.Collector,
	messenger Messenger, opts Options, logger *zap.Logger) *Engine {
	opts.fill()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      st,
		brain:      br,
		venues:     ch,
		collector:  col,
		messenger:  messenger,
		extractor:  signal.NewExtractor(logger),
		opts:       opts,
		logger:     logger,
		groupLocks: map[string]*sync.Mutex{},
	}
}

// groupLock returns the mutex serializing writes for one group.
func (e *Engine) groupLock(groupID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.groupLocks[groupID]
	if !ok {
		l = &sync.Mutex{}
		e.groupLocks[groupID] = l
	}
	return l
}

// CanSpeak reports whether the cooldown allows an autonomous message now.
// A group the bot has never spoken in is always allowed.
func (e *Engine) CanSpeak(state *types.GroupState, now time.Time) bool {
	if state.LastBotMessage.IsZero() {
		return true
	}
	return now.Sub(state.LastBotMessage) >= e.opts.SpeechCooldown
}

// Say sends an autonomous group message if the cooldown allows it. Returns
// whether the message went out. The timestamp is stamped only after a
// successful send so a failed delivery does not consume the cooldown.
func (e *Engine) Say(ctx context.Context, groupID, text string) (bool, error) {
	state, err := e.store.GetGroupState(groupID)
	if err != nil {
		return false, err
	}
	now := time.Now()
	if !e.CanSpeak(state, now) {
		e.logger.Debug("speech throttled", zap.String("group", groupID))
		return false, nil
	}
	if err := e.messenger.PushText(ctx, groupID, text); err != nil {
		return false, err
	}
	e.logBotMessage(groupID, text)
	return true, e.store.StampBotMessage(groupID, now)
}

// ForceSay sends a group message bypassing the cooldown. Used for vote
// results and collection outcomes, which members explicitly asked for.
func (e *Engine) ForceSay(ctx context.Context, groupID, text string) error {
	if err := e.messenger.PushText(ctx, groupID, text); err != nil {
		return err
	}
	e.logBotMessage(groupID, text)
	return e.store.StampBotMessage(groupID, time.Now())
}

// deliver answers an inbound event: the reply token when present, push
// otherwise. Reply tokens are one-shot and expire, so push is the fallback.
func (e *Engine) deliver(ctx context.Context, groupID, replyToken, text string) error {
	if replyToken != "" {
		if err := e.messenger.ReplyText(ctx, replyToken, text); err == nil {
			e.logBotMessage(groupID, text)
			return e.store.StampBotMessage(groupID, time.Now())
		}
		e.logger.Debug("reply-path delivery failed, pushing", zap.String("group", groupID))
	}
	return e.ForceSay(ctx, groupID, text)
}

// logBotMessage records an outbound message in the group's message log so
// the signal extractor's bot-recency guard and the chat context fed to the
// brain both see the bot's own turns.
func (e *Engine) logBotMessage(groupID, text string) {
	if err := e.store.LogMessage(types.Message{
		GroupID:     groupID,
		DisplayName: "Kanpai",
		Text:        text,
		FromBot:     true,
		CreatedAt:   time.Now(),
	}); err != nil {
		e.logger.Warn("bot message log failed", zap.Error(err))
	}
}
