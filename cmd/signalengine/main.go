package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gheezy/signalengine/internal/config"
	"github.com/gheezy/signalengine/internal/engine"
	"github.com/gheezy/signalengine/internal/httpapi"
	ilog "github.com/gheezy/signalengine/internal/log"
	"github.com/gheezy/signalengine/internal/metrics"
	"github.com/gheezy/signalengine/internal/persistence"
	"github.com/gheezy/signalengine/internal/persistence/postgres"
	"github.com/gheezy/signalengine/internal/providers"
	"github.com/gheezy/signalengine/internal/providers/factorfeed"
	"github.com/gheezy/signalengine/internal/providers/kraken"
	"github.com/gheezy/signalengine/internal/scheduler"
	"github.com/gheezy/signalengine/internal/tracker"

	"github.com/gheezy/signalengine/internal/domain/factors"
)

const (
	appName = "signalengine"
	version = "v1.2.0"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Signal scoring and outcome tracking engine",
		Long:    "Scores crypto trading signals through weighted factor aggregation, conflict resolution, cross-asset adjustment and rules/ML blending, then grades each signal against realized prices.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ilog.Setup(flagLogLevel)
		},
	}
	// Accept underscore spellings (--log_level) alongside the dashed forms.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config (built-in defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, signal stream and scheduled outcome sweeps",
		RunE:  runServe,
	}

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score one symbol for a subject and persist the signal",
		RunE:  runEvaluate,
	}
	evaluateCmd.Flags().Int64("subject", 0, "subject id the signal belongs to")
	evaluateCmd.Flags().String("symbol", "", "asset symbol, e.g. BTCUSD")
	evaluateCmd.MarkFlagRequired("subject")
	evaluateCmd.MarkFlagRequired("symbol")

	trackCmd := &cobra.Command{
		Use:   "track",
		Short: "Grade a subject's mature pending signals",
		RunE:  runTrack,
	}
	trackCmd.Flags().Int64("subject", 0, "subject id to sweep")
	trackCmd.Flags().String("symbol", "", "optional symbol filter")
	trackCmd.MarkFlagRequired("subject")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print a subject's win/loss aggregates",
		RunE:  runStats,
	}
	statsCmd.Flags().Int64("subject", 0, "subject id")
	statsCmd.Flags().String("symbol", "", "optional symbol filter")
	statsCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(serveCmd, evaluateCmd, trackCmd, statsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// runtime holds everything a command needs after wiring.
type runtime struct {
	cfg     config.Config
	store   persistence.SignalStore
	engine  *engine.Engine
	tracker *tracker.Tracker
	metrics *metrics.Registry
	promReg *prometheus.Registry
	hub     *httpapi.StreamHub
	close   func()
}

func loadConfig() (config.Config, error) {
	if flagConfig == "" {
		return config.Default(), nil
	}
	return config.Load(flagConfig)
}

func buildRuntime(ctx context.Context, withStream bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := postgres.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("database connect failed: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema setup failed: %w", err)
	}
	store := postgres.NewSignalsRepo(db, cfg.Database.Timeout)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	refCache := providers.NewRefScoreCache(rdb, cfg.Redis.ScoreTTL)

	exchange := kraken.NewClient(kraken.Config{
		BaseURL:        cfg.Providers.KrakenURL,
		RequestTimeout: cfg.Providers.Timeout,
		RateLimitRPS:   cfg.Providers.RateLimitRPS,
		RateBurst:      cfg.Providers.RateBurst,
	})
	price := providers.NewGuardedPrice(exchange, cfg.Providers)
	history := providers.NewGuardedHistory(exchange, cfg.Providers)

	registry := factors.NewRegistry()
	var model providers.Model
	if cfg.Providers.FactorFeedURL != "" {
		feed := factorfeed.NewClient(factorfeed.Config{
			BaseURL:        cfg.Providers.FactorFeedURL,
			RequestTimeout: cfg.Providers.Timeout,
			RateLimitRPS:   cfg.Providers.RateLimitRPS,
			RateBurst:      cfg.Providers.RateBurst,
		})
		for _, phase := range cfg.Scoring.Phases {
			for name := range phase.Factors {
				if err := registry.Register(feed.Source(name)); err != nil {
					db.Close()
					return nil, fmt.Errorf("factor registration failed: %w", err)
				}
			}
		}
		model = providers.NewGuardedModel(feed, cfg.Providers)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewRegistry(promReg)

	var hub *httpapi.StreamHub
	var notifier engine.Notifier
	if withStream {
		hub = httpapi.NewStreamHub()
		notifier = hub
	}

	eng := engine.New(cfg, engine.Options{
		Registry: registry,
		Store:    store,
		Price:    price,
		Model:    model,
		RefRead:  refCache,
		RefWrite: refCache,
		Notifier: notifier,
		Metrics:  m,
	})
	trk := tracker.New(cfg.Tracker, store, history, price, m)

	return &runtime{
		cfg:     cfg,
		store:   store,
		engine:  eng,
		tracker: trk,
		metrics: m,
		promReg: promReg,
		hub:     hub,
		close: func() {
			rdb.Close()
			db.Close()
		},
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.close()

	sched := scheduler.New(ctx, rt.tracker, rt.store)
	if err := sched.Register(rt.cfg.Tracker.SweepSchedule); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()
	// Grade any backlog right away instead of waiting for the first tick.
	go sched.RunNow()

	handlers := httpapi.NewHandlers(rt.engine, rt.tracker, rt.store)
	server := httpapi.NewServer(rt.cfg.Server, handlers, rt.promReg, rt.hub)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Providers.Timeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	subject, _ := cmd.Flags().GetInt64("subject")
	symbol, _ := cmd.Flags().GetString("symbol")

	sig, err := rt.engine.Evaluate(ctx, subject, symbol)
	if err != nil {
		return err
	}
	return printJSON(sig)
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	subject, _ := cmd.Flags().GetInt64("subject")
	symbol, _ := cmd.Flags().GetString("symbol")

	summary, err := rt.tracker.CheckPending(ctx, subject, symbol)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	subject, _ := cmd.Flags().GetInt64("subject")
	symbol, _ := cmd.Flags().GetString("symbol")

	stats, err := rt.store.Stats(ctx, subject, symbol)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
