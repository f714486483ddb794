// Command taskqd runs taskq worker pools, the scheduler, or both against a
// shared queue store, and serves the admin API.
//
// Configuration comes from TASKQ_* environment variables; see
// internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xraph/taskq/api"
	audithook "github.com/xraph/taskq/audit_hook"
	"github.com/xraph/taskq/engine"
	"github.com/xraph/taskq/internal/config"
	"github.com/xraph/taskq/job"
	"github.com/xraph/taskq/schedule"
	"github.com/xraph/taskq/stream"
)

// dlqRetention is how long dead-letter entries survive the nightly purge.
const dlqRetention = 30 * 24 * time.Hour

// httpShutdownTimeout bounds the admin API drain after the engine stops.
const httpShutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("taskqd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("close store", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	broker := stream.NewBroker(stream.WithLogger(logger))
	opts := []engine.Option{
		engine.WithConfig(cfg.Engine()),
		engine.WithLogger(logger),
		engine.WithPrometheus(reg),
		engine.WithExtension(broker),
	}
	if cfg.StrictKinds {
		opts = append(opts, engine.WithStrictKinds())
	}
	if len(cfg.AuditActions) > 0 {
		opts = append(opts, engine.WithExtension(newAuditHook(cfg.AuditActions, logger)))
	}
	if !cfg.RunsWorkers() {
		opts = append(opts, engine.WithoutWorkers())
	}
	if !cfg.RunsScheduler() {
		opts = append(opts, engine.WithoutScheduler())
	}

	eng, err := engine.New(s, opts...)
	if err != nil {
		return err
	}
	if err := registerMaintenance(eng); err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	logger.Info("taskqd started",
		slog.String("role", string(cfg.Role)),
		slog.String("store", string(cfg.Driver)),
		slog.String("worker_id", eng.WorkerID().String()),
	)

	var srv *http.Server
	serveErr := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		handler := api.New(eng,
			api.WithGatherer(reg),
			api.WithBroker(broker),
			api.WithLogger(logger),
		).Handler()
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("admin api listening", slog.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serveErr:
		runErr = fmt.Errorf("admin api: %w", runErr)
	}

	// The engine bounds its own drain by ShutdownTimeout; the headroom lets
	// cancelled attempts finish resolving.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer stopCancel()

	// Stopping the engine closes event streams, which lets the server drain.
	if err := eng.Stop(stopCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if srv != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer httpCancel()
		if err := srv.Shutdown(httpCtx); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("admin api shutdown: %w", err))
		}
	}
	logger.Info("taskqd stopped")
	return runErr
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newAuditHook(actions []string, logger *slog.Logger) *audithook.Extension {
	opts := []audithook.Option{audithook.WithLogger(logger)}
	if !slices.Contains(actions, "all") {
		opts = append(opts, audithook.WithActions(actions...))
	}
	return audithook.New(audithook.SlogRecorder(logger.With(slog.String("component", "audit"))), opts...)
}

type purgePayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// registerMaintenance installs the built-in DLQ retention job and its
// nightly schedule.
func registerMaintenance(eng *engine.Engine) error {
	purge := job.NewDefinition("taskq.dlq.purge", func(ctx context.Context, p purgePayload) error {
		n, err := eng.DLQ().Purge(ctx, p.OlderThan)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "dlq purged", slog.Int64("entries", n))
		return nil
	}, job.WithMaxAttempts(3))
	if err := engine.Register(eng, purge); err != nil {
		return err
	}

	return eng.Schedule(schedule.Definition{
		Name:    "taskq.dlq.retention",
		Cron:    "@daily",
		Factory: schedule.Static("taskq.dlq.purge", purgePayload{OlderThan: dlqRetention}),
	})
}
