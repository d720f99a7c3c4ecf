package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 60*time.Minute, cfg.GetSpeechCooldown())
	assert.Equal(t, 24*time.Hour, cfg.GetCacheTTL())
	assert.Equal(t, 3, cfg.Engine.VoteQuorum)
	assert.Equal(t, time.Hour, cfg.GetVoteTimeout())
	assert.Equal(t, 5*time.Minute, cfg.GetSessionExpiry())
	assert.Equal(t, time.Minute, cfg.GetSessionSweep())
	assert.Equal(t, "東京", cfg.Venues.DefaultArea)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Addr)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kanpai.yaml")
	data := `
engine:
  vote_quorum: 5
  speech_cooldown: 30m
venues:
  default_area: "大阪"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.VoteQuorum)
	assert.Equal(t, 30*time.Minute, cfg.GetSpeechCooldown())
	assert.Equal(t, "大阪", cfg.Venues.DefaultArea)
	// Untouched values keep defaults.
	assert.Equal(t, time.Hour, cfg.GetVoteTimeout())
}

func TestDurationFallbackOnGarbage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.VoteTimeout = "not-a-duration"
	assert.Equal(t, time.Hour, cfg.GetVoteTimeout())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "tok-123")
	t.Setenv("HOTPEPPER_API_KEY", "hp-456")
	t.Setenv("KANPAI_DB", "/tmp/test.db")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tok-123", cfg.Line.ChannelToken)
	assert.Equal(t, "hp-456", cfg.Venues.HotpepperKey)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.Path)
}

func TestEnvAPIKeyRespectsProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("GEMINI_API_KEY", "sk-gemini")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)

	dir := t.TempDir()
	path := filepath.Join(dir, "kanpai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: gemini\n"), 0644))

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-gemini", cfg.LLM.APIKey)
}

func TestValidateRejectsBadTuning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.VoteQuorum = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Venues.CacheTTL = "0s"
	assert.Error(t, cfg.Validate())
}
