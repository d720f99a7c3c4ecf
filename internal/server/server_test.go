package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanpai/internal/types"
)

type fakeBot struct {
	mu     sync.Mutex
	events []types.InboundEvent
	joins  []string
	err    error
}

func (f *fakeBot) HandleEvent(ctx context.Context, ev types.InboundEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeBot) HandleJoin(ctx context.Context, groupID, replyToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, groupID)
	return f.err
}

type fakeProfiler struct {
	name string
	err  error
}

func (f *fakeProfiler) GroupMemberProfile(ctx context.Context, groupID, userID string) (string, error) {
	return f.name, f.err
}

func postWebhook(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhookGroupMessage(t *testing.T) {
	bot := &fakeBot{}
	s := New(bot, &fakeProfiler{name: "たろう"}, "", nil)

	body := `{"events":[{"type":"message","replyToken":"rt1",
		"source":{"type":"group","groupId":"g1","userId":"u1"},
		"message":{"type":"text","text":"こんにちは"}}]}`
	w := postWebhook(t, s.Handler(), body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, bot.events, 1)
	ev := bot.events[0]
	assert.Equal(t, "g1", ev.GroupID)
	assert.Equal(t, "u1", ev.ParticipantID)
	assert.Equal(t, "たろう", ev.DisplayName)
	assert.Equal(t, "こんにちは", ev.Text)
	assert.Equal(t, "rt1", ev.ReplyToken)
	assert.False(t, ev.IsDirect)
}

func TestWebhookRoomFoldsToGroup(t *testing.T) {
	bot := &fakeBot{}
	s := New(bot, nil, "", nil)

	body := `{"events":[{"type":"message",
		"source":{"type":"room","roomId":"r1","userId":"u1"},
		"message":{"type":"text","text":"やあ"}}]}`
	postWebhook(t, s.Handler(), body, nil)

	require.Len(t, bot.events, 1)
	assert.Equal(t, "r1", bot.events[0].GroupID)
	assert.Equal(t, defaultDisplayName, bot.events[0].DisplayName)
}

func TestWebhookDirectMessage(t *testing.T) {
	bot := &fakeBot{}
	s := New(bot, nil, "", nil)

	body := `{"events":[{"type":"message",
		"source":{"type":"user","userId":"u1"},
		"message":{"type":"text","text":"2"}}]}`
	postWebhook(t, s.Handler(), body, nil)

	require.Len(t, bot.events, 1)
	assert.True(t, bot.events[0].IsDirect)
	assert.Empty(t, bot.events[0].GroupID)
	assert.Equal(t, "2", bot.events[0].Text)
}

func TestWebhookJoin(t *testing.T) {
	bot := &fakeBot{}
	s := New(bot, nil, "", nil)

	body := `{"events":[{"type":"join","replyToken":"rt1",
		"source":{"type":"group","groupId":"g1"}}]}`
	postWebhook(t, s.Handler(), body, nil)

	assert.Equal(t, []string{"g1"}, bot.joins)
}

func TestWebhookSkipsNonTextAndUnknownEvents(t *testing.T) {
	bot := &fakeBot{}
	s := New(bot, nil, "", nil)

	body := `{"events":[
		{"type":"message","source":{"type":"group","groupId":"g1"},"message":{"type":"sticker"}},
		{"type":"unfollow","source":{"type":"user","userId":"u1"}}]}`
	w := postWebhook(t, s.Handler(), body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, bot.events)
	assert.Empty(t, bot.joins)
}

func TestWebhookAlwaysOKOnHandlerError(t *testing.T) {
	bot := &fakeBot{err: errors.New("boom")}
	s := New(bot, nil, "", nil)

	body := `{"events":[{"type":"message",
		"source":{"type":"group","groupId":"g1","userId":"u1"},
		"message":{"type":"text","text":"x"}}]}`
	w := postWebhook(t, s.Handler(), body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookMalformedBodyStillOK(t *testing.T) {
	s := New(&fakeBot{}, nil, "", nil)
	w := postWebhook(t, s.Handler(), "{not json", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookSignatureVerification(t *testing.T) {
	bot := &fakeBot{}
	secret := "channel-secret"
	s := New(bot, nil, secret, nil)

	body := `{"events":[{"type":"message",
		"source":{"type":"group","groupId":"g1","userId":"u1"},
		"message":{"type":"text","text":"x"}}]}`

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	w := postWebhook(t, s.Handler(), body, map[string]string{"X-Line-Signature": sig})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, bot.events, 1)

	w = postWebhook(t, s.Handler(), body, map[string]string{"X-Line-Signature": "bogus"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, bot.events, 1)
}

func TestWebhookRejectsGet(t *testing.T) {
	s := New(&fakeBot{}, nil, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := New(&fakeBot{}, nil, "", nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Contains(t, out["status"], "Kanpai Bot")
}
