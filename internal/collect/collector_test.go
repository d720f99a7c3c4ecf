package collect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kanpai/internal/store"
	"kanpai/internal/types"
)

type fakeMessenger struct {
	mu     sync.Mutex
	pushes map[string][]string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{pushes: map[string][]string{}}
}

func (f *fakeMessenger) PushText(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes[to] = append(f.pushes[to], text)
	return nil
}

func (f *fakeMessenger) sent(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushes[to]...)
}

func newTestCollector(t *testing.T) (*Collector, *fakeMessenger, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	m := newFakeMessenger()
	return New(st, m, 5*time.Minute, nil), m, st
}

func TestStartFansOutFirstPrompt(t *testing.T) {
	c, m, _ := newTestCollector(t)

	sess, err := c.Start(context.Background(), "g1", "alice", []string{"alice", "bob"})
	require.NoError(t, err)
	require.NotNil(t, sess)

	for _, u := range []string{"alice", "bob"} {
		msgs := m.sent(u)
		require.Len(t, msgs, 1)
		assert.Contains(t, msgs[0], "予算は？")
	}

	// Second session for the same group is rejected while one is live.
	_, err = c.Start(context.Background(), "g1", "bob", []string{"bob"})
	assert.Error(t, err)
}

func TestStartRejectsEmptyRoster(t *testing.T) {
	c, _, _ := newTestCollector(t)
	_, err := c.Start(context.Background(), "g1", "alice", nil)
	assert.Error(t, err)
}

func TestHandleAnswerAdvancesSteps(t *testing.T) {
	c, m, _ := newTestCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "g1", "alice", []string{"alice"})
	require.NoError(t, err)

	sess, err := c.HandleAnswer(ctx, "alice", "2")
	require.NoError(t, err)
	assert.NotNil(t, sess)
	msgs := m.sent("alice")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "ジャンルは？")

	sess, err = c.HandleAnswer(ctx, "alice", " 4 ")
	require.NoError(t, err)
	assert.NotNil(t, sess)
	msgs = m.sent("alice")
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2], "ありがとう🍻")

	// Finished participants get silence, not errors.
	sess, err = c.HandleAnswer(ctx, "alice", "1")
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Len(t, m.sent("alice"), 3)
}

func TestHandleAnswerInvalidRePrompts(t *testing.T) {
	c, m, st := newTestCollector(t)
	ctx := context.Background()

	sess, err := c.Start(ctx, "g1", "alice", []string{"alice"})
	require.NoError(t, err)

	routed, err := c.HandleAnswer(ctx, "alice", "9")
	require.NoError(t, err)
	require.NotNil(t, routed)
	assert.Equal(t, sess.ID, routed.ID)
	msgs := m.sent("alice")
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "予算は？")

	// Invalid answers leave no trace in the stored responses.
	got, err := st.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Responses["alice"])
}

func TestHandleAnswerUnknownSender(t *testing.T) {
	c, _, _ := newTestCollector(t)

	sess, err := c.HandleAnswer(context.Background(), "stranger", "2")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestTryCompleteWhenAllFinished(t *testing.T) {
	c, _, _ := newTestCollector(t)
	ctx := context.Background()

	sess, err := c.Start(ctx, "g1", "alice", []string{"alice", "bob"})
	require.NoError(t, err)

	for _, answer := range []string{"2", "4"} {
		_, err = c.HandleAnswer(ctx, "alice", answer)
		require.NoError(t, err)
	}

	// Bob has not finished; the session is neither done nor expired.
	agg, err := c.TryComplete(sess.ID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, agg)

	for _, answer := range []string{"2", "1"} {
		_, err = c.HandleAnswer(ctx, "bob", answer)
		require.NoError(t, err)
	}

	agg, err = c.TryComplete(sess.ID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, "2", agg.Budget)
	assert.Equal(t, 2, agg.Answered)
	assert.Contains(t, agg.Summary, "2人が回答")
	assert.Contains(t, agg.Summary, "〜4,000円")

	// Aggregation happens exactly once.
	again, err := c.TryComplete(sess.ID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTryCompleteOnExpiryIncludesPartials(t *testing.T) {
	c, _, _ := newTestCollector(t)
	ctx := context.Background()

	sess, err := c.Start(ctx, "g1", "alice", []string{"alice", "bob", "carol"})
	require.NoError(t, err)

	// Alice finished, bob answered only the budget step, carol never replied.
	for _, answer := range []string{"3", "4"} {
		_, err = c.HandleAnswer(ctx, "alice", answer)
		require.NoError(t, err)
	}
	_, err = c.HandleAnswer(ctx, "bob", "3")
	require.NoError(t, err)

	agg, err := c.TryComplete(sess.ID, time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, "3", agg.Budget)
	assert.Equal(t, "4", agg.Genre)
	assert.Equal(t, 2, agg.Answered)
}

func TestAggregateTieBreaksByFirstSeen(t *testing.T) {
	sess := &types.CollectionSession{
		Roster: []string{"a", "b", "c", "d"},
		Responses: map[string][]string{
			"a": {"2", "4"},
			"b": {"3", "1"},
			"c": {"2", "1"},
			"d": {"3", "4"},
		},
	}

	agg := aggregate(sess)
	// Budget: 2 and 3 tie at two each; "2" appears first in roster order.
	assert.Equal(t, "2", agg.Budget)
	// Genre: 4 and 1 tie; "4" appears first.
	assert.Equal(t, "4", agg.Genre)
	assert.Equal(t, 4, agg.Answered)
}
