package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"kanpai/internal/brain"
	"kanpai/internal/collect"
	"kanpai/internal/config"
	"kanpai/internal/engine"
	"kanpai/internal/server"
	"kanpai/internal/store"
	"kanpai/internal/types"
	"kanpai/internal/venues"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "kanpai",
	Short: "Kanpai - LINE group dining assistant 🍻",
	Long: `Kanpai is a LINE bot that helps group chats decide where to eat.

It records what members ate, suggests venues that avoid repeats, runs
votes when the group is split, and collects preferences privately when
nobody wants to say theirs out loud.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and background sweeps",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	client, err := newLLMClient(cfg)
	if err != nil {
		return err
	}
	br := brain.New(client, cfg.GetLLMTimeout(), logger)

	providers := venueProviders(cfg)
	chain := venues.NewChain(st, providers, cfg.GetCacheTTL(), cfg.GetVenueTimeout(),
		cfg.Venues.DefaultArea, logger)

	line, err := server.NewLINEClient(server.LINEConfig{
		ChannelToken: cfg.Line.ChannelToken,
		BaseURL:      cfg.Line.APIBase,
		Timeout:      10 * time.Second,
	})
	if err != nil {
		return err
	}

	collector := collect.New(st, line, cfg.GetSessionExpiry(), logger)
	eng := engine.New(st, br, chain, collector, line, engineOptions(cfg), logger)

	srv := server.New(eng, line, cfg.Line.ChannelSecret, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("kanpai starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("llm", cfg.LLM.Provider),
		zap.Int("venue_providers", len(providers)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, cfg.Server.Addr) })
	g.Go(func() error {
		err := eng.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	return g.Wait()
}

var simulateCmd = &cobra.Command{
	Use:   "simulate [script]",
	Short: "Replay a scripted conversation against an in-memory engine",
	Long: `Reads "name: message" lines from the script file (or stdin) and runs
them through the full event pipeline with an in-memory store, printing
every outbound message to the console.

Lines of the form "dm name: message" are delivered as direct messages
(questionnaire answers); lines starting with # are skipped. Session and
vote sweeps run once after the script ends.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

// simGroupID is the group every scripted line lands in.
const simGroupID = "sim-group"

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	input := os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open script: %w", err)
		}
		defer f.Close()
		input = f
	}

	st, err := store.Open(":memory:", logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	client, err := newLLMClient(cfg)
	if err != nil {
		return err
	}
	br := brain.New(client, cfg.GetLLMTimeout(), logger)
	chain := venues.NewChain(st, venueProviders(cfg), cfg.GetCacheTTL(),
		cfg.GetVenueTimeout(), cfg.Venues.DefaultArea, logger)

	messenger := consoleMessenger{}
	collector := collect.New(st, messenger, cfg.GetSessionExpiry(), logger)
	eng := engine.New(st, br, chain, collector, messenger, engineOptions(cfg), logger)

	ctx := cmd.Context()
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		ev, ok := parseSimLine(scanner.Text())
		if !ok {
			continue
		}
		fmt.Printf("%s: %s\n", ev.ParticipantID, ev.Text)
		if err := eng.HandleEvent(ctx, ev); err != nil {
			logger.Warn("event failed", zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	eng.SweepSessions(ctx)
	eng.SweepVotes(ctx)
	return nil
}

// parseSimLine parses one script line into an event. Returns false for
// blanks, comments, and lines without a "name:" prefix.
func parseSimLine(line string) (types.InboundEvent, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return types.InboundEvent{}, false
	}

	direct := false
	if rest, ok := strings.CutPrefix(line, "dm "); ok {
		direct = true
		line = rest
	}

	name, text, ok := strings.Cut(line, ":")
	if !ok {
		return types.InboundEvent{}, false
	}
	name = strings.TrimSpace(name)
	text = strings.TrimSpace(text)
	if name == "" || text == "" {
		return types.InboundEvent{}, false
	}

	ev := types.InboundEvent{
		ParticipantID: name,
		DisplayName:   name,
		Text:          text,
		IsDirect:      direct,
	}
	if !direct {
		ev.GroupID = simGroupID
	}
	return ev, true
}

// consoleMessenger prints outbound messages instead of calling the
// Messaging API.
type consoleMessenger struct{}

func (consoleMessenger) PushText(ctx context.Context, to, text string) error {
	fmt.Printf("\n🍻 Kanpai → %s\n%s\n\n", to, text)
	return nil
}

func (consoleMessenger) ReplyText(ctx context.Context, replyToken, text string) error {
	fmt.Printf("\n🍻 Kanpai (reply)\n%s\n\n", text)
	return nil
}

// venueProviders builds the lookup chain members for the configured keys.
func venueProviders(cfg *config.Config) []venues.Provider {
	var providers []venues.Provider
	if p := venues.NewHotpepperProvider(cfg.Venues.HotpepperKey, cfg.GetVenueTimeout()); p != nil {
		providers = append(providers, p)
	}
	if p := venues.NewPlacesProvider(cfg.Venues.PlacesKey, cfg.GetVenueTimeout()); p != nil {
		providers = append(providers, p)
	}
	return providers
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		SpeechCooldown:  cfg.GetSpeechCooldown(),
		VoteQuorum:      cfg.Engine.VoteQuorum,
		VoteTimeout:     cfg.GetVoteTimeout(),
		SilenceAfter:    cfg.GetSilenceAfter(),
		ActiveGroupDays: cfg.Engine.ActiveGroupDays,
		SessionSweep:    cfg.GetSessionSweep(),
		VoteSweep:       cfg.GetVoteSweep(),
		MonitorSweep:    cfg.GetMonitorSweep(),
	}
}

// newLLMClient builds the generation client named by the config.
func newLLMClient(cfg *config.Config) (brain.Client, error) {
	switch cfg.LLM.Provider {
	case "openai", "":
		return brain.NewOpenAIClientWithConfig(brain.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		}), nil
	case "gemini":
		return brain.NewGeminiClient(brain.GeminiConfig{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.GetLLMTimeout(),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "kanpai.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
