package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanpai/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGroupStateLazyCreation(t *testing.T) {
	s := newTestStore(t)

	st, err := s.GetGroupState("g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", st.GroupID)
	assert.Equal(t, types.ModeIdle, st.Mode)
	assert.Empty(t, st.ActiveVoteID)
	assert.True(t, st.LastBotMessage.IsZero())

	// Second read returns the same row, not a fresh one.
	again, err := s.GetGroupState("g1")
	require.NoError(t, err)
	assert.Equal(t, st.LastActivity.Unix(), again.LastActivity.Unix())
}

func TestVoteLifecycleRoundTrip(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGroupState("g1")
	require.NoError(t, err)

	v := &types.Vote{
		ID:        "v1",
		GroupID:   "g1",
		Question:  "焼肉 vs 寿司",
		Options:   []string{"焼肉", "寿司"},
		Ballots:   map[string]int{},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateVote(v))

	st, err := s.GetGroupState("g1")
	require.NoError(t, err)
	assert.Equal(t, types.ModeVoting, st.Mode)
	assert.Equal(t, "v1", st.ActiveVoteID)

	// Second active vote for the same group is rejected.
	dup := &types.Vote{ID: "v2", GroupID: "g1", Question: "q", Options: []string{"a", "b"}, Ballots: map[string]int{}, CreatedAt: time.Now()}
	assert.Error(t, s.CreateVote(dup))

	require.NoError(t, s.SaveBallots("v1", map[string]int{"alice": 0, "bob": 1}))
	got, err := s.GetVote("v1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 1}, got.Ballots)
	assert.Equal(t, []string{"焼肉", "寿司"}, got.Options)
}

func TestCloseVoteIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGroupState("g1")
	require.NoError(t, err)

	v := &types.Vote{ID: "v1", GroupID: "g1", Question: "q", Options: []string{"a", "b"}, Ballots: map[string]int{}, CreatedAt: time.Now()}
	require.NoError(t, s.CreateVote(v))

	won, err := s.CloseVote("v1", time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	// Group is back to idle with the invariant restored.
	st, err := s.GetGroupState("g1")
	require.NoError(t, err)
	assert.Equal(t, types.ModeIdle, st.Mode)
	assert.Empty(t, st.ActiveVoteID)

	// Racing second close loses.
	won, err = s.CloseVote("v1", time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	// Ballots on a closed vote are silently dropped.
	require.NoError(t, s.SaveBallots("v1", map[string]int{"late": 0}))
	got, err := s.GetVote("v1")
	require.NoError(t, err)
	assert.Empty(t, got.Ballots)
}

func TestExpiredVotes(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGroupState("g1")
	require.NoError(t, err)

	old := &types.Vote{ID: "v-old", GroupID: "g1", Question: "q", Options: []string{"a", "b"},
		Ballots: map[string]int{}, CreatedAt: time.Now().Add(-2 * time.Hour)}
	require.NoError(t, s.CreateVote(old))

	expired, err := s.ExpiredVotes(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "v-old", expired[0].ID)

	expired, err = s.ExpiredVotes(time.Now().Add(-3 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestSessionOnePerGroup(t *testing.T) {
	s := newTestStore(t)

	sess := &types.CollectionSession{
		ID: "s1", GroupID: "g1", Initiator: "alice",
		Roster:    []string{"alice", "bob"},
		Responses: map[string][]string{},
		ExpiresAt: time.Now().Add(5 * time.Minute),
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateSession(sess))

	dup := &types.CollectionSession{
		ID: "s2", GroupID: "g1", Initiator: "bob",
		Roster: []string{"bob"}, Responses: map[string][]string{},
		ExpiresAt: time.Now().Add(5 * time.Minute), CreatedAt: time.Now(),
	}
	assert.Error(t, s.CreateSession(dup))

	// A different group is unaffected.
	other := &types.CollectionSession{
		ID: "s3", GroupID: "g2", Initiator: "carol",
		Roster: []string{"carol"}, Responses: map[string][]string{},
		ExpiresAt: time.Now().Add(5 * time.Minute), CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateSession(other))
}

func TestSessionByParticipant(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	sess := &types.CollectionSession{
		ID: "s1", GroupID: "g1", Initiator: "alice",
		Roster:    []string{"alice", "bob"},
		Responses: map[string][]string{},
		ExpiresAt: now.Add(5 * time.Minute),
		CreatedAt: now,
	}
	require.NoError(t, s.CreateSession(sess))

	found, err := s.SessionByParticipant("bob", now)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "s1", found.ID)

	found, err = s.SessionByParticipant("mallory", now)
	require.NoError(t, err)
	assert.Nil(t, found)

	// Expired sessions are invisible to routing.
	found, err = s.SessionByParticipant("bob", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestCompleteSessionExactlyOnce(t *testing.T) {
	s := newTestStore(t)

	sess := &types.CollectionSession{
		ID: "s1", GroupID: "g1", Initiator: "alice",
		Roster: []string{"alice"}, Responses: map[string][]string{},
		ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, s.CreateSession(sess))

	won, err := s.CompleteSession("s1")
	require.NoError(t, err)
	assert.True(t, won)

	// Repeated sweep hits are no-ops.
	for i := 0; i < 3; i++ {
		won, err = s.CompleteSession("s1")
		require.NoError(t, err)
		assert.False(t, won)
	}
}

func TestExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	expired := &types.CollectionSession{
		ID: "s1", GroupID: "g1", Roster: []string{"a"}, Responses: map[string][]string{},
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-6 * time.Minute),
	}
	live := &types.CollectionSession{
		ID: "s2", GroupID: "g2", Roster: []string{"b"}, Responses: map[string][]string{},
		ExpiresAt: now.Add(4 * time.Minute), CreatedAt: now,
	}
	require.NoError(t, s.CreateSession(expired))
	require.NoError(t, s.CreateSession(live))

	got, err := s.ExpiredSessions(now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ID)
}

func TestCacheExpiry(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	entry := types.CacheEntry{
		Key:       "4|2|渋谷",
		Results:   []types.Venue{{Name: "焼肉さかい"}},
		ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, s.CachePut(entry))

	venues, hit, err := s.CacheGet("4|2|渋谷", now)
	require.NoError(t, err)
	assert.True(t, hit)
	require.Len(t, venues, 1)
	assert.Equal(t, "焼肉さかい", venues[0].Name)

	// At and after expiry the entry is never served.
	_, hit, err = s.CacheGet("4|2|渋谷", now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = s.CacheGet("4|2|渋谷", now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, hit)

	// Unknown key is a plain miss.
	_, hit, err = s.CacheGet("nope", now)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestMessagesAndMembers(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Minute)

	for i, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.LogMessage(types.Message{
			GroupID: "g1", UserID: "u1", DisplayName: "Alice", Text: text,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.LogMessage(types.Message{
		GroupID: "g1", DisplayName: "Kanpai", Text: "bot", FromBot: true,
		CreatedAt: base.Add(3 * time.Second),
	}))

	msgs, err := s.RecentMessages("g1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// Chronological order, newest batch.
	assert.Equal(t, "b", msgs[0].Text)
	assert.Equal(t, "bot", msgs[2].Text)
	assert.True(t, msgs[2].FromBot)

	require.NoError(t, s.UpsertMember("g1", "u1", "Alice"))
	require.NoError(t, s.UpsertMember("g1", "u2", "Bob"))
	require.NoError(t, s.UpsertMember("g1", "u1", "Alice2"))

	members, err := s.Members("g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, members)
}

func TestFoodHistoryWindow(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.RecordFood(types.FoodRecord{
		GroupID: "g1", Item: "ラーメン", Category: "ラーメン", EatenAt: now.Add(-24 * time.Hour)}))
	require.NoError(t, s.RecordFood(types.FoodRecord{
		GroupID: "g1", Item: "カレー", EatenAt: now.Add(-20 * 24 * time.Hour)}))

	recs, err := s.FoodHistory("g1", now.Add(-14*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ラーメン", recs[0].Item)
}

func TestActiveGroups(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	_, err := s.GetGroupState("fresh")
	require.NoError(t, err)
	_, err = s.GetGroupState("stale")
	require.NoError(t, err)
	require.NoError(t, s.TouchActivity("stale", now.Add(-10*24*time.Hour)))

	groups, err := s.ActiveGroups(now.Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "fresh", groups[0].GroupID)
}

func TestStampBotMessage(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGroupState("g1")
	require.NoError(t, err)

	at := time.Now()
	require.NoError(t, s.StampBotMessage("g1", at))

	st, err := s.GetGroupState("g1")
	require.NoError(t, err)
	assert.Equal(t, at.UTC().Unix(), st.LastBotMessage.Unix())
	assert.Equal(t, at.UTC().Unix(), st.LastActivity.Unix())
}
