// ABOUTME: Entry point for the agorai-bridge server
// ABOUTME: Hosts the message store, session layer and any locally-run agents

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/agorai/bridge/internal/agentloop"
	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/bridge"
	"github.com/agorai/bridge/internal/bus"
	"github.com/agorai/bridge/internal/config"
	"github.com/agorai/bridge/internal/model"
	"github.com/agorai/bridge/internal/store"
	"github.com/agorai/bridge/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                   _
  __ _  __ _  ___  _ __ __ _ (_)  | |__  _ __(_) __| | __ _  ___
 / _' |/ _' |/ _ \| '__/ _' || |  | '_ \| '__| |/ _' |/ _' |/ _ \
| (_| | (_| | (_) | | | (_| || |  | |_) | |  | | (_| | (_| |  __/
 \__,_|\__, |\___/|_|  \__,_||_|  |_.__/|_|  |_|\__,_|\__, |\___|
       |___/                                          |___/
`

// getConfigPath returns the path to the bridge config file.
// Priority: AGORAI_CONFIG env var > XDG_CONFIG_HOME/agorai/bridge.yaml > ~/.config/agorai/bridge.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGORAI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agorai", "bridge.yaml")
}

// getDataPath returns the path to the agorai data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "agorai")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agorai-bridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the bridge server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check bridge health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if len(cfg.Agents) > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Agents:   %d local\n", len(cfg.Agents))
	}
	fmt.Println()

	logger.Info("starting agorai-bridge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"db", cfg.Database.Path,
	)

	broadcaster := bus.NewBroadcaster(logger)
	defer broadcaster.Close()

	st, err := store.NewSQLiteStore(cfg.Database.Path, broadcaster)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	keys := make([]auth.KeySpec, 0, len(cfg.Auth.Keys))
	for _, k := range cfg.Auth.Keys {
		keys = append(keys, auth.KeySpec{
			Key:            k.Key,
			Name:           k.Name,
			Type:           k.Type,
			Capabilities:   k.Capabilities,
			ClearanceLevel: store.Clearance(k.ClearanceLevel),
		})
	}
	provider := auth.NewProvider(st, cfg.Auth.Salt, keys, logger)

	registry := tools.NewRegistry(st, logger)

	server, err := bridge.NewServer(bridge.Config{
		Store:    st,
		Bus:      broadcaster,
		Auth:     provider,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer server.Close()

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Local agents run in-process against the store, no HTTP hop.
	var wg sync.WaitGroup
	for _, agentCfg := range cfg.Agents {
		runner, err := buildLocalAgent(st, provider, agentCfg, cfg.Auth.Keys, logger)
		if err != nil {
			return fmt.Errorf("agent %s: %w", agentCfg.Name, err)
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("local agent stopped", "agent", name, "error", err)
			}
		}(agentCfg.Name)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	wg.Wait()
	return nil
}

// buildLocalAgent wires one configured in-process agent.
func buildLocalAgent(st store.Store, provider *auth.Provider, agentCfg config.AgentConfig, keys []config.KeyConfig, logger *slog.Logger) (*agentloop.Runner, error) {
	clearance := store.ClearanceTeam
	for _, k := range keys {
		if k.Key == agentCfg.Key && k.ClearanceLevel != "" {
			clearance = store.Clearance(k.ClearanceLevel)
		}
	}

	direct, err := agentloop.NewDirectBridge(st, provider.HashFor(agentCfg.Key), clearance)
	if err != nil {
		return nil, err
	}

	caller, err := model.New(model.Config{
		Endpoint: agentCfg.Endpoint,
		Model:    agentCfg.Model,
		APIKey:   agentCfg.APIKey,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return agentloop.NewRunner(agentloop.Config{
		Bridge:       direct,
		Adapter:      agentloop.NewModelAdapter(caller),
		AgentName:    agentCfg.Name,
		AgentType:    "local",
		Mode:         agentloop.Mode(agentCfg.Mode),
		PollInterval: agentCfg.PollInterval,
		SystemPrompt: agentCfg.SystemPrompt,
		Logger:       logger,
	})
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("agorai-bridge configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "bridge.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Auth Configuration ---")
	salt := prompt(reader, "Key salt (empty disables HMAC)", "")
	firstKey := prompt(reader, "First agent API key", "")
	firstName := ""
	if firstKey != "" {
		firstName = prompt(reader, "First agent name", "agent-1")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# agorai-bridge configuration\n")
	cfg.WriteString("# Generated by agorai-bridge init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  salt: \"%s\"\n", salt))
	if firstKey != "" {
		cfg.WriteString("  keys:\n")
		cfg.WriteString(fmt.Sprintf("    - key: \"%s\"\n", firstKey))
		cfg.WriteString(fmt.Sprintf("      name: \"%s\"\n", firstName))
		cfg.WriteString("      clearance_level: \"team\"\n")
	} else {
		cfg.WriteString("  keys: []\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  agorai-bridge serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
