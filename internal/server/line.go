package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LINEClient is a minimal Messaging API client covering push, reply, and
// member profile lookup. It satisfies the engine's and the collector's
// Messenger interfaces.
type LINEClient struct {
	channelToken string
	baseURL      string
	httpClient   *http.Client
}

// LINEConfig configures the client. BaseURL and Timeout have working
// defaults.
type LINEConfig struct {
	ChannelToken string
	BaseURL      string
	Timeout      time.Duration
}

// NewLINEClient creates a Messaging API client.
func NewLINEClient(cfg LINEConfig) (*LINEClient, error) {
	if cfg.ChannelToken == "" {
		return nil, fmt.Errorf("LINE channel access token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.line.me"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &LINEClient{
		channelToken: cfg.ChannelToken,
		baseURL:      cfg.BaseURL,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

// PushText sends a text message to a user, group, or room.
func (c *LINEClient) PushText(ctx context.Context, to, text string) error {
	return c.post(ctx, "/v2/bot/message/push", pushRequest{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	})
}

// ReplyText answers an event using its one-shot reply token.
func (c *LINEClient) ReplyText(ctx context.Context, replyToken, text string) error {
	return c.post(ctx, "/v2/bot/message/reply", replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	})
}

// GroupMemberProfile returns the display name of a group member.
func (c *LINEClient) GroupMemberProfile(ctx context.Context, groupID, userID string) (string, error) {
	url := fmt.Sprintf("%s/v2/bot/group/%s/member/%s", c.baseURL, groupID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("profile lookup returned %d: %s", resp.StatusCode, string(body))
	}

	var profile struct {
		DisplayName string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", fmt.Errorf("failed to decode profile: %w", err)
	}
	return profile.DisplayName, nil
}

func (c *LINEClient) post(ctx context.Context, path string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.channelToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("message send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messaging API returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
