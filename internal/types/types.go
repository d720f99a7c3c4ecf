// Package types provides shared type definitions used across kanpai packages.
// This package exists to break import cycles between store, engine, and the
// collaborator packages. Types here are foundational data structures with no
// complex dependencies.
package types

import "time"

// GroupMode is the per-group conversation mode.
type GroupMode string

const (
	ModeIdle   GroupMode = "idle"
	ModeVoting GroupMode = "voting"
)

// GroupState tracks the engine's view of a single group. One row per group,
// created lazily on first observation and never deleted.
//
// Invariant: Mode == ModeVoting iff ActiveVoteID != "".
type GroupState struct {
	GroupID        string
	Mode           GroupMode
	ActiveVoteID   string
	LastBotMessage time.Time // zero if the bot has never spoken autonomously
	LastActivity   time.Time
}

// VoteStatus is the lifecycle state of a vote.
type VoteStatus string

const (
	VoteActive VoteStatus = "active"
	VoteClosed VoteStatus = "closed"
)

// Vote is a group poll. Ballots map participant ID to an option index;
// the last ballot per participant wins. Immutable once closed.
type Vote struct {
	ID        string
	GroupID   string
	Question  string
	Options   []string
	Ballots   map[string]int
	Status    VoteStatus
	CreatedAt time.Time
	ClosedAt  time.Time // zero while active
}

// SessionStatus is the lifecycle state of a collection session.
type SessionStatus string

const (
	SessionCollecting SessionStatus = "collecting"
	SessionCompleted  SessionStatus = "completed"
)

// CollectionSession is a private multi-step questionnaire dispatched to a
// roster of participants. Responses map participant ID to the ordered list
// of step answers given so far; a participant whose answer count equals the
// step count has finished.
type CollectionSession struct {
	ID        string
	GroupID   string
	Initiator string
	Roster    []string
	Responses map[string][]string
	Status    SessionStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Message is one logged group message, used as LLM context and as the
// signal-extraction window.
type Message struct {
	GroupID     string
	UserID      string
	DisplayName string
	Text        string
	FromBot     bool
	CreatedAt   time.Time
}

// FoodRecord is one remembered meal, extracted from group chatter and used
// to steer suggestions away from recent repeats.
type FoodRecord struct {
	GroupID  string
	UserID   string
	Item     string
	Category string
	RawText  string
	EatenAt  time.Time
}

// Venue is a single restaurant/bar result from a lookup provider. Name is
// the only field guaranteed to be set.
type Venue struct {
	Name        string  `json:"name"`
	Catch       string  `json:"catch,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	RatingCount int     `json:"rating_count,omitempty"`
	PriceLevel  int     `json:"price_level,omitempty"`
	Address     string  `json:"address,omitempty"`
	Access      string  `json:"access,omitempty"`
	Budget      string  `json:"budget,omitempty"`
	URL         string  `json:"url,omitempty"`
}

// CacheEntry is a cached venue lookup result. Never served past ExpiresAt.
type CacheEntry struct {
	Key       string
	Results   []Venue
	ExpiresAt time.Time
}

// InboundEvent is one received message, already stripped of transport
// details by the webhook layer.
type InboundEvent struct {
	GroupID       string // empty for direct (private) messages
	ParticipantID string
	DisplayName   string
	Text          string
	IsDirect      bool
	ReplyToken    string // optional; enables reply-path delivery
}
