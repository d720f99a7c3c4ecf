package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLINE(t *testing.T, handler http.HandlerFunc) *LINEClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewLINEClient(LINEConfig{ChannelToken: "token"})
	require.NoError(t, err)
	c.baseURL = srv.URL
	c.httpClient = srv.Client()
	return c
}

func TestNewLINEClientRequiresToken(t *testing.T) {
	_, err := NewLINEClient(LINEConfig{})
	assert.Error(t, err)
}

func TestPushText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody pushRequest
	c := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.PushText(context.Background(), "g1", "こんにちは"))
	assert.Equal(t, "/v2/bot/message/push", gotPath)
	assert.Equal(t, "Bearer token", gotAuth)
	assert.Equal(t, "g1", gotBody.To)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "text", gotBody.Messages[0].Type)
	assert.Equal(t, "こんにちは", gotBody.Messages[0].Text)
}

func TestReplyText(t *testing.T) {
	var gotPath string
	var gotBody replyRequest
	c := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.ReplyText(context.Background(), "rt1", "やあ"))
	assert.Equal(t, "/v2/bot/message/reply", gotPath)
	assert.Equal(t, "rt1", gotBody.ReplyToken)
}

func TestPushTextAPIError(t *testing.T) {
	c := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
	})

	err := c.PushText(context.Background(), "g1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestGroupMemberProfile(t *testing.T) {
	var gotPath string
	c := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"displayName": "たろう"})
	})

	name, err := c.GroupMemberProfile(context.Background(), "g1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "たろう", name)
	assert.Equal(t, "/v2/bot/group/g1/member/u1", gotPath)
}

func TestGroupMemberProfileNotFound(t *testing.T) {
	c := newTestLINE(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := c.GroupMemberProfile(context.Background(), "g1", "u1")
	assert.Error(t, err)
}
