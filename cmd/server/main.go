package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/dispatch/internal/config"
	"github.com/me/dispatch/internal/logging"
	"github.com/me/dispatch/internal/registry"
	"github.com/me/dispatch/internal/scheduler"
	"github.com/me/dispatch/internal/scorer"
	"github.com/me/dispatch/internal/server"
	"github.com/me/dispatch/internal/store"
	"github.com/me/dispatch/internal/tasks"
	"github.com/me/dispatch/internal/worker"
)

func main() {
	cfg := config.DefaultServerConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Database path (default ~/.dispatch/dispatch.db)")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Dispatcher fallback poll interval")
	flag.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "Worker heartbeat timeout before requeue")
	flag.StringVar(&cfg.Scorer, "scorer", cfg.Scorer, "Priority scorer: constant, linear, script")
	flag.StringVar(&cfg.ScorerScript, "scorer-script", cfg.ScorerScript, "Path to scorer expression file (scorer=script)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	configFile := flag.String("config", "", "Path to server config YAML file")
	simWorkers := flag.Int("sim-workers", 0, "Run N in-process simulated workers instead of remote ones")

	flag.Parse()

	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Resolve database path.
	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".dispatch")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		dbPath = filepath.Join(dir, "dispatch.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", dbPath)

	// Build the priority scorer.
	sc, err := buildScorer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init scorer: %v\n", err)
		os.Exit(1)
	}
	logger.Info("scorer ready", "kind", cfg.Scorer)

	svc := tasks.NewService(st, sc, cfg.BaselinePriority, logger)
	reg := registry.New(st, cfg.HeartbeatTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Choose how assignments reach workers: in-process simulated workers,
	// or remote workers pulling over the API.
	var handler scheduler.ExecHandler
	var sched *scheduler.Dispatcher
	var sim *scheduler.SimHandler

	schedCfg := scheduler.DefaultConfig()
	schedCfg.PollInterval = cfg.PollInterval

	if *simWorkers > 0 {
		rt := worker.DefaultRuntime()
		sim = scheduler.NewSimHandler(svc, reg, rt, func() {
			if sched != nil {
				sched.Notify()
			}
		}, logger)
		handler = sim

		// The sim handler keeps its workers' heartbeats fresh so the
		// reap phase never retires them.
		ws, err := sim.RunWorkers(ctx, *simWorkers, cfg.HeartbeatTimeout/3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "start simulated workers: %v\n", err)
			os.Exit(1)
		}
		for _, w := range ws {
			logger.Info("simulated worker ready", "worker_id", w.ID, "name", w.Name)
		}
	} else {
		handler = scheduler.PullHandler{}
	}

	sched = scheduler.NewDispatcher(st, reg, handler, schedCfg, logger)

	srv := server.New(cfg, svc, reg, sched, logger)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Start dispatcher in background.
	srv.StartScheduler(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop dispatcher before HTTP server.
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	if sim != nil {
		sim.Wait()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// buildScorer constructs the configured scorer implementation.
func buildScorer(cfg config.ServerConfig) (scorer.Scorer, error) {
	switch cfg.Scorer {
	case "constant":
		return scorer.Constant{Value: cfg.BaselinePriority}, nil
	case "", "linear":
		return scorer.NewLinear(cfg.MinPriority, cfg.MaxPriority), nil
	case "script":
		if cfg.ScorerScript == "" {
			return nil, fmt.Errorf("scorer=script requires --scorer-script")
		}
		src, err := os.ReadFile(cfg.ScorerScript)
		if err != nil {
			return nil, fmt.Errorf("read scorer script: %w", err)
		}
		return scorer.NewScript(string(src), cfg.MinPriority, cfg.MaxPriority)
	default:
		return nil, fmt.Errorf("unknown scorer %q", cfg.Scorer)
	}
}
