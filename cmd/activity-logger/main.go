// Package main is the CLI entry point for activity-logger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/WWWonderer/activity-logger/internal/ai"
	"github.com/WWWonderer/activity-logger/internal/aggregate"
	"github.com/WWWonderer/activity-logger/internal/classify"
	"github.com/WWWonderer/activity-logger/internal/config"
	"github.com/WWWonderer/activity-logger/internal/daemon"
	"github.com/WWWonderer/activity-logger/internal/dashboard"
	"github.com/WWWonderer/activity-logger/internal/domain"
	"github.com/WWWonderer/activity-logger/internal/infra"
	"github.com/WWWonderer/activity-logger/internal/remote"
	"github.com/WWWonderer/activity-logger/internal/store"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var dataDir string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "activity-logger",
	Short: "Personal activity tracker",
	Long: `activity-logger samples the foreground application, window title and
browser URL, classifies the activity into productivity categories, and
stores merged sessions in per-month columnar files for visualization.`,
	Version: Version,
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run the sampling loop in the foreground",
	Long: `Starts the tracker: polls the foreground window on an interval,
classifies activity, and flushes merged sessions to local storage.
Stops cleanly on SIGINT/SIGTERM, flushing the in-progress session.`,
	RunE: runTrack,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Serve the read-only dashboard API",
	Long:  `Serves daily sessions and summaries as JSON over HTTP from already-flushed storage files.`,
	RunE:  runDashboard,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run tracker and dashboard together",
	Long: `Runs the dashboard in the background and the sampling loop in the
foreground. The sampling loop owns the shutdown signal; stopping it
also stops the dashboard.`,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the tracker is running",
	RunE:  runStatus,
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage encrypted secrets (e.g. the AI API key)",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Store a secret",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretSet,
}

var secretGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Print a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretGet,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("activity-logger %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default ~/.activity-logger)")

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)

	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(versionCmd)
}

func runTrack(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	sampler, cleanup, err := buildSampler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := sampler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDashboard(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	deviceID, err := infra.DeviceID(cfg.DeviceIDPath())
	if err != nil {
		return err
	}
	st, err := store.New(cfg.LogDir, deviceID, logger,
		store.WithGaps(cfg.ResumeGap, cfg.MergeGap))
	if err != nil {
		return err
	}

	server := dashboard.NewServer(cfg.DashboardAddr, st, logger)
	return server.Run(ctx)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(logger)
	defer cancel()

	sampler, cleanup, err := buildSampler(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	deviceID, err := infra.DeviceID(cfg.DeviceIDPath())
	if err != nil {
		return err
	}
	readStore, err := store.New(cfg.LogDir, deviceID, logger,
		store.WithGaps(cfg.ResumeGap, cfg.MergeGap))
	if err != nil {
		return err
	}

	server := dashboard.NewServer(cfg.DashboardAddr, readStore, logger)
	go func() {
		if err := server.Run(ctx); err != nil {
			logger.Warn("dashboard stopped", zap.Error(err))
		}
	}()

	if err := sampler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return err
	}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.RegistryPath(), pm)

	entry, err := registry.Get()
	if err != nil || entry == nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'activity-logger track' to start tracking.")
		return nil
	}

	if pm.IsRunning(entry.TrackerPID) {
		fmt.Println("Status: RUNNING")
		fmt.Printf("PID: %d\n", entry.TrackerPID)
	} else {
		fmt.Println("Status: NOT RUNNING (stale registry entry)")
	}
	fmt.Printf("Device: %s\n", entry.DeviceID)
	if entry.StartedAt > 0 {
		fmt.Printf("Started: %s\n", time.Unix(entry.StartedAt, 0).Format(time.RFC3339))
	}
	if entry.LastHeartbeat > 0 {
		fmt.Printf("Last heartbeat: %s ago\n",
			time.Since(time.Unix(entry.LastHeartbeat, 0)).Round(time.Second))
	}
	if entry.AppVersion != "" {
		fmt.Printf("Version: %s\n", entry.AppVersion)
	}
	return nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	secrets, err := openSecrets()
	if err != nil {
		return err
	}
	defer secrets.Close()

	if err := secrets.SetSecret(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Stored secret %q\n", args[0])
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	secrets, err := openSecrets()
	if err != nil {
		return err
	}
	defer secrets.Close()

	value, err := secrets.GetSecret(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

// setup loads the config and builds the file logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return cfg, createLogger(cfg.DataDir), nil
}

// buildSampler wires the whole tracking pipeline: observer, classifier,
// aggregator, store and registry.
func buildSampler(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*daemon.Sampler, func(), error) {
	noop := func() {}

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.RegistryPath(), pm)
	if entry, err := registry.RunningTracker(); err == nil && entry != nil {
		return nil, noop, fmt.Errorf("tracker already running (pid %d)", entry.TrackerPID)
	}

	deviceID, err := infra.DeviceID(cfg.DeviceIDPath())
	if err != nil {
		return nil, noop, err
	}

	rules := classify.NewRuleEngine(cfg.RulesPath(), logger)
	if err := rules.Load(); err != nil {
		return nil, noop, err
	}
	go func() {
		if err := rules.Watch(ctx); err != nil {
			logger.Warn("rule file watching disabled", zap.Error(err))
		}
	}()

	keywords := classify.NewKeywordIndex(cfg.KeywordsPath(), logger,
		classify.WithCapacity(cfg.KeywordCapacity),
		classify.WithCooldown(cfg.KeywordCooldown))
	if err := keywords.Load(); err != nil {
		return nil, noop, err
	}

	suggester, cleanup := buildSuggester(cfg, logger)
	classifier := classify.New(rules, keywords, suggester, logger)

	var syncClient domain.SyncClient
	if cfg.SyncDir != "" {
		client, err := remote.NewMirrorClient(cfg.SyncDir, cfg.LogDir, deviceID, logger)
		if err != nil {
			logger.Warn("sync disabled", zap.Error(err))
		} else {
			syncClient = client
			if pulled, err := client.PullRemote(); err != nil {
				logger.Warn("startup pull failed", zap.Error(err))
			} else if len(pulled) > 0 {
				logger.Info("pulled remote files", zap.Int("count", len(pulled)))
			}
		}
	}

	storeOpts := []store.Option{store.WithGaps(cfg.ResumeGap, cfg.MergeGap)}
	if syncClient != nil {
		storeOpts = append(storeOpts, store.WithSyncClient(syncClient))
	}
	st, err := store.New(cfg.LogDir, deviceID, logger, storeOpts...)
	if err != nil {
		cleanup()
		return nil, noop, err
	}

	runner := &infra.RealCommandRunner{}
	observer := infra.NewOSAScriptObserver(runner, cfg.FirefoxBridgePath, logger)
	idleThreshold := infra.ResolveIdleThreshold(runner, cfg.IdleThreshold, logger)
	idleProbe := infra.NewHIDIdleProbe(runner, idleThreshold, logger)

	resumed := st.Resume(time.Now())
	aggregator := aggregate.New(classifier, deviceID, resumed)
	if resumed.Active {
		logger.Info("resumed open session",
			zap.String("app", resumed.Identity.App),
			zap.Time("start", resumed.Start))
	}

	samplerCfg := daemon.SamplerConfig{
		SampleInterval:    cfg.SampleInterval,
		FlushInterval:     cfg.FlushInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxBufferRows:     cfg.MaxBufferRows,
	}
	info := domain.TrackerInfo{
		PID:       pm.GetCurrentPID(),
		DeviceID:  deviceID,
		StartedAt: time.Now(),
		Version:   Version,
	}

	sampler := daemon.NewSampler(samplerCfg, observer, idleProbe, aggregator, st, registry, info, logger)
	return sampler, cleanup, nil
}

// buildSuggester returns the AI callback when enabled and configured,
// nil otherwise. A missing API key disables AI instead of failing.
func buildSuggester(cfg *config.Config, logger *zap.Logger) (domain.Suggester, func()) {
	noop := func() {}
	if !cfg.AIEnabled {
		return nil, noop
	}

	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		return ai.NewOpenAISuggester(apiKey, ai.WithModel(cfg.AIModel)), noop
	}

	secrets, err := openSecrets()
	if err != nil {
		logger.Warn("AI disabled: secret store unavailable", zap.Error(err))
		return nil, noop
	}

	apiKey, err := secrets.GetSecret("openai_api_key")
	if err != nil {
		logger.Warn("AI disabled: no API key stored; run 'activity-logger secret set openai_api_key <key>'",
			zap.Error(err))
		secrets.Close()
		return nil, noop
	}

	suggester := ai.NewOpenAISuggester(apiKey, ai.WithModel(cfg.AIModel))
	return suggester, func() { secrets.Close() }
}

func openSecrets() (domain.SecretStore, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}

	key, err := infra.EnsureKey(infra.NewFileKeyProvider(cfg.DataDir))
	if err != nil {
		return nil, err
	}
	return infra.NewEncryptedSecrets(cfg.DataDir, key)
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return ctx, cancel
}

func createLogger(dataDir string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(dataDir, "activity-logger.log"), "stderr"}
	config.ErrorOutputPaths = []string{filepath.Join(dataDir, "activity-logger.error.log"), "stderr"}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
