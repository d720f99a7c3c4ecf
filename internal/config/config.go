// Package config loads kanpai configuration from YAML with environment
// variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all kanpai configuration. Durations are stored as strings
// ("30s", "1h") and exposed through the Get* accessors, which fall back to
// the built-in defaults on parse failure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Line    LineConfig    `yaml:"line"`
	LLM     LLMConfig     `yaml:"llm"`
	Venues  VenuesConfig  `yaml:"venues"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LineConfig configures the messaging transport.
type LineConfig struct {
	ChannelToken  string `yaml:"channel_token"`
	ChannelSecret string `yaml:"channel_secret"`
	APIBase       string `yaml:"api_base"`
}

// LLMConfig configures the text-generation collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// VenuesConfig configures the venue lookup providers and cache.
type VenuesConfig struct {
	HotpepperKey string `yaml:"hotpepper_key"`
	PlacesKey    string `yaml:"places_key"`
	CacheTTL     string `yaml:"cache_ttl"`
	Timeout      string `yaml:"timeout"`
	DefaultArea  string `yaml:"default_area"`
}

// EngineConfig tunes the orchestration heuristics.
type EngineConfig struct {
	SpeechCooldown  string `yaml:"speech_cooldown"`
	VoteQuorum      int    `yaml:"vote_quorum"`
	VoteTimeout     string `yaml:"vote_timeout"`
	SessionExpiry   string `yaml:"session_expiry"`
	SilenceAfter    string `yaml:"silence_after"`
	SessionSweep    string `yaml:"session_sweep"`
	VoteSweep       string `yaml:"vote_sweep"`
	MonitorSweep    string `yaml:"monitor_sweep"`
	ActiveGroupDays int    `yaml:"active_group_days"`
}

// StorageConfig configures the SQLite record store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the built-in defaults. Sweep cadences mirror the
// production deployment: 1 minute session sweep, 15 minute vote sweep,
// 30 minute group monitor.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":3000"},
		Line: LineConfig{
			APIBase: "https://api.line.me",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "30s",
		},
		Venues: VenuesConfig{
			CacheTTL:    "24h",
			Timeout:     "10s",
			DefaultArea: "東京",
		},
		Engine: EngineConfig{
			SpeechCooldown:  "60m",
			VoteQuorum:      3,
			VoteTimeout:     "1h",
			SessionExpiry:   "5m",
			SilenceAfter:    "3h",
			SessionSweep:    "1m",
			VoteSweep:       "15m",
			MonitorSweep:    "30m",
			ActiveGroupDays: 7,
		},
		Storage: StorageConfig{Path: "kanpai.db"},
	}
}

// Load reads the config file at path, merging it over the defaults and then
// applying environment overrides. A missing file is not an error: defaults
// plus environment are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment so they never
// need to live in the YAML file.
func (c *Config) applyEnvOverrides() {
	if tok := os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"); tok != "" {
		c.Line.ChannelToken = tok
	}
	if sec := os.Getenv("LINE_CHANNEL_SECRET"); sec != "" {
		c.Line.ChannelSecret = sec
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("HOTPEPPER_API_KEY"); key != "" {
		c.Venues.HotpepperKey = key
	}
	if key := os.Getenv("GOOGLE_PLACES_API_KEY"); key != "" {
		c.Venues.PlacesKey = key
	}
	if path := os.Getenv("KANPAI_DB"); path != "" {
		c.Storage.Path = path
	}
	if addr := os.Getenv("KANPAI_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Validate checks tuning values that would otherwise corrupt engine
// behavior silently.
func (c *Config) Validate() error {
	if c.Engine.VoteQuorum < 1 {
		return fmt.Errorf("engine.vote_quorum must be >= 1, got %d", c.Engine.VoteQuorum)
	}
	if c.GetSpeechCooldown() <= 0 {
		return fmt.Errorf("engine.speech_cooldown must be positive")
	}
	if c.GetCacheTTL() <= 0 {
		return fmt.Errorf("venues.cache_ttl must be positive")
	}
	if c.GetSessionExpiry() <= 0 {
		return fmt.Errorf("engine.session_expiry must be positive")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the text-generation call timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 30*time.Second)
}

// GetCacheTTL returns the venue cache lifetime.
func (c *Config) GetCacheTTL() time.Duration {
	return parseDuration(c.Venues.CacheTTL, 24*time.Hour)
}

// GetVenueTimeout returns the per-provider lookup timeout.
func (c *Config) GetVenueTimeout() time.Duration {
	return parseDuration(c.Venues.Timeout, 10*time.Second)
}

// GetSpeechCooldown returns the autonomous-message cooldown window.
func (c *Config) GetSpeechCooldown() time.Duration {
	return parseDuration(c.Engine.SpeechCooldown, 60*time.Minute)
}

// GetVoteTimeout returns how long a vote stays open without quorum.
func (c *Config) GetVoteTimeout() time.Duration {
	return parseDuration(c.Engine.VoteTimeout, time.Hour)
}

// GetSessionExpiry returns the collection session lifetime.
func (c *Config) GetSessionExpiry() time.Duration {
	return parseDuration(c.Engine.SessionExpiry, 5*time.Minute)
}

// GetSilenceAfter returns the quiet period before a silence intervention.
func (c *Config) GetSilenceAfter() time.Duration {
	return parseDuration(c.Engine.SilenceAfter, 3*time.Hour)
}

// GetSessionSweep returns the session-timeout sweep cadence.
func (c *Config) GetSessionSweep() time.Duration {
	return parseDuration(c.Engine.SessionSweep, time.Minute)
}

// GetVoteSweep returns the vote-timeout sweep cadence.
func (c *Config) GetVoteSweep() time.Duration {
	return parseDuration(c.Engine.VoteSweep, 15*time.Minute)
}

// GetMonitorSweep returns the group-monitor sweep cadence.
func (c *Config) GetMonitorSweep() time.Duration {
	return parseDuration(c.Engine.MonitorSweep, 30*time.Minute)
}
