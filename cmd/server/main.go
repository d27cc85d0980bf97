package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/taskd/internal/config"
	"github.com/me/taskd/internal/executor"
	"github.com/me/taskd/internal/logging"
	"github.com/me/taskd/internal/scheduler"
	"github.com/me/taskd/internal/server"
	"github.com/me/taskd/internal/store"
)

func main() {
	cfg := config.DefaultServerConfig()

	// Flags are bound to a copy and applied last, so they win over the
	// config file and the environment.
	flags := cfg
	flag.StringVar(&flags.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&flags.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&flags.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&flags.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.DurationVar(&flags.Scheduler.PollInterval, "poll-interval", cfg.Scheduler.PollInterval, "Scheduler poll interval")
	flag.DurationVar(&flags.Scheduler.Lookahead, "lookahead", cfg.Scheduler.Lookahead, "Run tasks due within this window of now")
	flag.StringVar(&flags.Scheduler.RepeatSchedule, "repeat-schedule", cfg.Scheduler.RepeatSchedule, "Cron spec for repeating tasks")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	configFile := flag.String("config", "", "Path to YAML config file")

	flag.Parse()

	if err := config.LoadFile(&cfg, *configFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	config.ApplyEnv(&cfg, os.Getenv)
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = flags.Addr
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "log-format":
			cfg.LogFormat = flags.LogFormat
		case "db":
			cfg.DBPath = flags.DBPath
		case "poll-interval":
			cfg.Scheduler.PollInterval = flags.Scheduler.PollInterval
		case "lookahead":
			cfg.Scheduler.Lookahead = flags.Scheduler.Lookahead
		case "repeat-schedule":
			cfg.Scheduler.RepeatSchedule = flags.Scheduler.RepeatSchedule
		}
	})
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.DBPath)

	// Create executor registry and register executors.
	reg := executor.NewRegistry(cfg.Executor.Timeout, logger)
	executor.RegisterDefaults(reg, cfg.Executor, logger)

	sched, err := scheduler.NewLoop(st, reg, cfg.Scheduler, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create scheduler: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(cfg, st, sched, logger, server.WithExecutorRegistry(reg))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start scheduler in background.
	srv.StartScheduler(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop scheduler before HTTP server.
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped", "stats", sched.Stats())
}
