// ABOUTME: Standalone agent process connecting a hosted model to a bridge
// ABOUTME: Polls for unread messages and replies through the chat-completions endpoint

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agorai/bridge/internal/agentloop"
	"github.com/agorai/bridge/internal/client"
	"github.com/agorai/bridge/internal/model"
)

func main() {
	var (
		bridgeURL = flag.String("bridge", "http://localhost:8080", "Bridge base URL")
		apiKey    = flag.String("key", "", "Bridge API key (required)")
		name      = flag.String("name", "", "Agent name (required)")
		modelName = flag.String("model", "", "Model name (required)")
		endpoint  = flag.String("endpoint", "", "OpenAI-compatible endpoint root (required)")
		modelKey  = flag.String("api-key", "", "Model endpoint API key (optional)")
		mode      = flag.String("mode", "passive", "Reply mode: passive (on @mention) or active")
		poll      = flag.Duration("poll", 3*time.Second, "Poll interval")
		system    = flag.String("system", "", "System prompt")
		logLevel  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	if *apiKey == "" || *name == "" || *modelName == "" || *endpoint == "" {
		fmt.Fprintln(os.Stderr, "Usage: agorai-agent --key KEY --name NAME --model MODEL --endpoint URL [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, runConfig{
		bridgeURL: *bridgeURL,
		apiKey:    *apiKey,
		name:      *name,
		model:     *modelName,
		endpoint:  *endpoint,
		modelKey:  *modelKey,
		mode:      *mode,
		poll:      *poll,
		system:    *system,
		logger:    logger,
	}); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runConfig struct {
	bridgeURL string
	apiKey    string
	name      string
	model     string
	endpoint  string
	modelKey  string
	mode      string
	poll      time.Duration
	system    string
	logger    *slog.Logger
}

func run(ctx context.Context, cfg runConfig) error {
	c, err := client.New(client.Config{
		BaseURL: cfg.bridgeURL,
		APIKey:  cfg.apiKey,
		Logger:  cfg.logger,
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer c.Close()

	caller, err := model.New(model.Config{
		Endpoint: cfg.endpoint,
		Model:    cfg.model,
		APIKey:   cfg.modelKey,
		Logger:   cfg.logger,
	})
	if err != nil {
		return fmt.Errorf("creating model caller: %w", err)
	}

	runner, err := agentloop.NewRunner(agentloop.Config{
		Bridge:       c,
		Adapter:      agentloop.NewModelAdapter(caller),
		AgentName:    cfg.name,
		AgentType:    "model",
		Mode:         agentloop.Mode(cfg.mode),
		PollInterval: cfg.poll,
		SystemPrompt: cfg.system,
		Logger:       cfg.logger,
	})
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	cfg.logger.Info("connecting to bridge",
		"bridge", cfg.bridgeURL,
		"agent", cfg.name,
		"model", cfg.model,
		"mode", cfg.mode,
	)
	return runner.Run(ctx)
}

// setupLogger writes text logs to stderr so stdout stays clean.
func setupLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
