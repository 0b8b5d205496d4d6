package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/dispatch/internal/logging"
	"github.com/me/dispatch/internal/worker"
)

func main() {
	var cfg worker.Config

	flag.StringVar(&cfg.ServerURL, "server", "http://localhost:8080", "Dispatch server URL")
	flag.StringVar(&cfg.Name, "name", "", "Worker name (default: hostname)")
	flag.StringVar(&cfg.Endpoint, "endpoint", "", "Worker endpoint advertised at registration")
	flag.DurationVar(&cfg.Poll, "poll", 2*time.Second, "Assignment poll interval")
	flag.DurationVar(&cfg.Heartbeat, "heartbeat", 10*time.Second, "Heartbeat interval")

	rt := worker.DefaultRuntime()
	flag.DurationVar(&rt.Base, "base-duration", rt.Base, "Simulated base execution duration")
	flag.DurationVar(&rt.Min, "min-duration", rt.Min, "Minimum simulated duration")
	flag.DurationVar(&rt.Max, "max-duration", rt.Max, "Maximum simulated duration")

	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		*logLevel = "debug"
	}

	logger := logging.New(*logLevel, *logFormat)

	// Default worker name to hostname.
	if cfg.Name == "" {
		h, err := os.Hostname()
		if err != nil {
			cfg.Name = "worker"
		} else {
			cfg.Name = h
		}
	}

	w := worker.New(cfg, rt, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting worker",
		"server", cfg.ServerURL,
		"name", cfg.Name,
		"poll", cfg.Poll,
	)

	if err := w.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "worker error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}
