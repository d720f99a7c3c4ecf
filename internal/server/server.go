// Package server exposes the webhook endpoint and the LINE Messaging API
// client. The handler strips transport details off incoming events and hands
// the rest to the engine.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kanpai/internal/types"
)

// Bot is the engine surface the webhook needs.
type Bot interface {
	HandleEvent(ctx context.Context, ev types.InboundEvent) error
	HandleJoin(ctx context.Context, groupID, replyToken string) error
}

// Profiler resolves a group member's display name. Optional: without one
// every sender is addressed by the default name.
type Profiler interface {
	GroupMemberProfile(ctx context.Context, groupID, userID string) (string, error)
}

const defaultDisplayName = "メンバー"

// Server handles webhook deliveries.
type Server struct {
	bot           Bot
	profiles      Profiler
	channelSecret string
	logger        *zap.Logger
}

// New creates a Server. An empty channelSecret disables signature
// verification; profiles may be nil.
func New(bot Bot, profiles Profiler, channelSecret string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{bot: bot, profiles: profiles, channelSecret: channelSecret, logger: logger}
}

// Handler returns the HTTP routes: POST /webhook and a health check on /.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "Kanpai Bot is running 🍻",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// webhookPayload is the Messaging API delivery envelope.
type webhookPayload struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		Type    string `json:"type"`
		GroupID string `json:"groupId"`
		RoomID  string `json:"roomId"`
		UserID  string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// handleWebhook always answers 200: the platform retries non-200 deliveries
// and a poison event must not wedge the queue. Events in one delivery are
// independent and processed concurrently.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Warn("webhook body read failed", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if s.channelSecret != "" && !s.verifySignature(body, r.Header.Get("X-Line-Signature")) {
		s.logger.Warn("webhook signature mismatch")
		http.Error(w, "bad signature", http.StatusForbidden)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.Warn("webhook parse failed", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	s.logger.Debug("webhook delivery", zap.Int("events", len(payload.Events)))

	g, ctx := errgroup.WithContext(r.Context())
	for _, ev := range payload.Events {
		g.Go(func() error {
			if err := s.dispatch(ctx, ev); err != nil {
				s.logger.Warn("event handling failed",
					zap.String("type", ev.Type), zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Server) dispatch(ctx context.Context, ev webhookEvent) error {
	isGroup := ev.Source.Type == "group" || ev.Source.Type == "room"
	groupID := ev.Source.GroupID
	if groupID == "" {
		groupID = ev.Source.RoomID
	}

	switch ev.Type {
	case "join":
		return s.bot.HandleJoin(ctx, groupID, ev.ReplyToken)
	case "message":
		if ev.Message.Type != "text" || ev.Message.Text == "" {
			return nil
		}
		inbound := types.InboundEvent{
			ParticipantID: ev.Source.UserID,
			DisplayName:   defaultDisplayName,
			Text:          ev.Message.Text,
			ReplyToken:    ev.ReplyToken,
		}
		if isGroup {
			inbound.GroupID = groupID
			inbound.DisplayName = s.displayName(ctx, groupID, ev.Source.UserID)
		} else {
			inbound.IsDirect = true
		}
		return s.bot.HandleEvent(ctx, inbound)
	default:
		// Stickers, unfollows, and the rest are out of scope.
		return nil
	}
}

// displayName resolves the sender's profile name. Lookup failures fall back
// to the default; a missing name never blocks handling.
func (s *Server) displayName(ctx context.Context, groupID, userID string) string {
	if s.profiles == nil || userID == "" {
		return defaultDisplayName
	}
	name, err := s.profiles.GroupMemberProfile(ctx, groupID, userID)
	if err != nil || name == "" {
		s.logger.Debug("profile lookup failed",
			zap.String("user", userID), zap.Error(err))
		return defaultDisplayName
	}
	return name
}

// Serve runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	s.logger.Info("webhook server listening", zap.String("addr", addr))

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
