package brain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanpai/internal/types"
)

type fakeClient struct {
	response   string
	err        error
	lastSystem string
	lastUser   string
	calls      int
}

func (f *fakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	return f.response, f.err
}

func TestExtractFood(t *testing.T) {
	fc := &fakeClient{response: `{"found": true, "items": ["ラーメン", "餃子"], "category": "ラーメン", "context": "食べた"}`}
	b := New(fc, time.Second, nil)

	info := b.ExtractFood(context.Background(), "昨日ラーメンと餃子食べた")
	assert.True(t, info.Found)
	assert.Equal(t, []string{"ラーメン", "餃子"}, info.Items)
	assert.Equal(t, "ラーメン", info.Category)
	assert.Equal(t, "食べた", info.Context)
}

func TestExtractFoodToleratesCodeFences(t *testing.T) {
	fc := &fakeClient{response: "```json\n{\"found\": true, \"items\": [\"寿司\"], \"category\": \"寿司\", \"context\": \"提案\"}\n```"}
	b := New(fc, time.Second, nil)

	info := b.ExtractFood(context.Background(), "寿司どう？")
	assert.True(t, info.Found)
	assert.Equal(t, []string{"寿司"}, info.Items)
}

func TestExtractFoodDegradesOnError(t *testing.T) {
	fc := &fakeClient{err: errors.New("boom")}
	b := New(fc, time.Second, nil)

	info := b.ExtractFood(context.Background(), "text")
	assert.False(t, info.Found)

	fc = &fakeClient{response: "not json at all"}
	b = New(fc, time.Second, nil)
	info = b.ExtractFood(context.Background(), "text")
	assert.False(t, info.Found)
}

func TestSuggestUsesPersonaAndFallsBack(t *testing.T) {
	fc := &fakeClient{response: "焼肉はどう？🍖"}
	b := New(fc, time.Second, nil)

	out := b.Suggest(context.Background(), msgsFor("焼肉いいね"), []types.FoodRecord{{Item: "ラーメン"}}, 4)
	assert.Equal(t, "焼肉はどう？🍖", out)
	assert.Contains(t, fc.lastSystem, "Kanpai")
	assert.Contains(t, fc.lastUser, "ラーメン")
	assert.Contains(t, fc.lastUser, "4人")

	fc.err = errors.New("rate limit")
	out = b.Suggest(context.Background(), nil, nil, 2)
	assert.Equal(t, fallbackSuggestion, out)
}

func TestReplyFallsBack(t *testing.T) {
	fc := &fakeClient{err: errors.New("down")}
	b := New(fc, time.Second, nil)

	out := b.Reply(context.Background(), nil, "Alice", "おすすめは？")
	assert.Equal(t, fallbackReply, out)
}

func TestInterveneReturnsFalseOnFailure(t *testing.T) {
	fc := &fakeClient{err: errors.New("down")}
	b := New(fc, time.Second, nil)

	_, ok := b.Intervene(context.Background(), nil, InterventionSilence)
	assert.False(t, ok, "no canned fallback for unprompted speech")

	fc.err = nil
	fc.response = "そろそろ決めよう！投票する？🗳"
	out, ok := b.Intervene(context.Background(), msgsFor("どっちでもいい"), InterventionStalemate)
	assert.True(t, ok)
	assert.NotEmpty(t, out)
	assert.Contains(t, fc.lastUser, "投票を提案する")
}

func TestVoteResultFallbackTally(t *testing.T) {
	fc := &fakeClient{err: errors.New("down")}
	b := New(fc, time.Second, nil)

	vote := &types.Vote{
		Question: "焼肉 vs 寿司",
		Options:  []string{"焼肉", "寿司"},
	}
	out := b.VoteResult(context.Background(), vote, []int{2, 1}, 0)
	assert.Contains(t, out, "結果発表")
	assert.Contains(t, out, "焼肉：2票")
	assert.Contains(t, out, "寿司：1票")
}

func TestVoteResultPromptMarksWinner(t *testing.T) {
	fc := &fakeClient{response: "焼肉の勝ち！🏆"}
	b := New(fc, time.Second, nil)

	vote := &types.Vote{Question: "q", Options: []string{"焼肉", "寿司"}}
	out := b.VoteResult(context.Background(), vote, []int{3, 1}, 0)
	require.Equal(t, "焼肉の勝ち！🏆", out)
	assert.Contains(t, fc.lastUser, "🏆 焼肉：3票")
	assert.Contains(t, fc.lastUser, "4票")
}

func TestCollectionSuggestionFallsBack(t *testing.T) {
	fc := &fakeClient{err: errors.New("down")}
	b := New(fc, time.Second, nil)

	out := b.CollectionSuggestion(context.Background(), nil, CollectionInput{
		BudgetLabel: "〜4,000円", GenreLabel: "焼肉", Answered: 3,
	})
	assert.Equal(t, fallbackCollection, out)

	fc.err = nil
	fc.response = "駅前の焼肉屋とか良さそう！"
	out = b.CollectionSuggestion(context.Background(), nil, CollectionInput{
		BudgetLabel: "〜4,000円", GenreLabel: "焼肉", Area: "渋谷", Answered: 3,
	})
	assert.Equal(t, "駅前の焼肉屋とか良さそう！", out)
	assert.Contains(t, fc.lastUser, "渋谷")
	assert.Contains(t, fc.lastUser, "〜4,000円")
}

func msgsFor(texts ...string) []types.Message {
	out := make([]types.Message, len(texts))
	for i, txt := range texts {
		out[i] = types.Message{Text: txt, DisplayName: "member"}
	}
	return out
}
