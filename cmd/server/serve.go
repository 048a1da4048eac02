package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/deadlinebot/internal/api"
	"github.com/ashureev/deadlinebot/internal/config"
	"github.com/ashureev/deadlinebot/internal/conversation"
	"github.com/ashureev/deadlinebot/internal/deadlines"
	"github.com/ashureev/deadlinebot/internal/identity"
	"github.com/ashureev/deadlinebot/internal/metrics"
	"github.com/ashureev/deadlinebot/internal/middleware"
	"github.com/ashureev/deadlinebot/internal/reminder"
	"github.com/ashureev/deadlinebot/internal/store"
	"github.com/ashureev/deadlinebot/internal/transport"
	"github.com/ashureev/deadlinebot/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// core holds the dependencies shared by every command.
type core struct {
	repo     *store.SQLiteStore
	table    *deadlines.Table
	recorder *metrics.Recorder
}

func openCore(ctx context.Context, cfg *config.Config, recorder *metrics.Recorder) (*core, error) {
	repo, err := store.NewSQLite(cfg.DBPath, cfg.Location())
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	table := deadlines.NewTable(nil)
	rows, err := deadlines.LoadFile(cfg.DeadlinesPath, cfg.Location())
	recorder.RecordTableReload(len(rows), err)
	if err != nil {
		// The watcher picks the file up once it appears or is fixed.
		slog.Warn("Shared deadlines not loaded, starting empty", "path", cfg.DeadlinesPath, "error", err)
	} else {
		table.Replace(rows)
		slog.Info("Shared deadlines loaded", "path", cfg.DeadlinesPath, "rows", len(rows))
	}

	return &core{repo: repo, table: table, recorder: recorder}, nil
}

func (c *core) close() {
	if err := c.repo.Close(); err != nil {
		slog.Error("Failed to close repository", "error", err)
	}
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "timezone", cfg.Location().String())

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	c, err := openCore(ctx, cfg, recorder)
	if err != nil {
		return err
	}
	defer c.close()

	if cfg.DeadlinesWatch {
		watcher, err := deadlines.NewWatcher(cfg.DeadlinesPath, cfg.Location(), c.table, 0)
		if err != nil {
			return err
		}
		watcher.OnReload(recorder.RecordTableReload)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := watcher.Stop(); err != nil {
				slog.Debug("Failed to stop deadlines watcher", "error", err)
			}
		}()
	}

	// Outbound delivery: websocket hub always, NATS when configured.
	hub := transport.NewHub()
	defer hub.CloseAll()
	fanout := transport.NewFanout(recorder)
	fanout.Add("websocket", hub)

	engine, err := conversation.NewEngine(conversation.Config{
		Sessions:      conversation.NewMemoryStore(),
		Deadlines:     c.table,
		Tasks:         c.repo,
		Subscriptions: c.repo,
		Sender:        fanout,
		Metrics:       recorder,
		IdleTimeout:   cfg.IdleTimeout,
		NoticeTimeout: cfg.DispatchTimeout,
		Location:      cfg.Location(),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.NATSURL != "" {
		bridge, err := transport.NewNATSBridge(cfg.NATSURL, cfg.NATSPrefix, engine)
		if err != nil {
			return err
		}
		defer bridge.Close()
		fanout.Add("nats", bridge)
		if err := bridge.Start(ctx); err != nil {
			return err
		}
	} else {
		slog.Info("NATS bridge disabled (NATS_URL not set)")
	}

	runner, err := reminder.NewRunner(reminder.RunnerConfig{
		Shared:      c.table,
		Records:     c.repo,
		Sender:      fanout,
		Metrics:     recorder,
		Location:    cfg.Location(),
		SendTimeout: cfg.DispatchTimeout,
	})
	if err != nil {
		return err
	}
	scheduler, err := reminder.NewScheduler(runner, cfg.Location())
	if err != nil {
		return err
	}
	if _, err := scheduler.ScheduleDaily(reminder.NextDay, cfg.DailyDigestClock()); err != nil {
		return err
	}
	weekday, at := cfg.WeeklyDigestSchedule()
	if _, err := scheduler.ScheduleWeekly(reminder.NextWeek, weekday, at); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			slog.Error("Failed to stop scheduler", "error", err)
		}
	}()
	for name, next := range scheduler.NextRuns() {
		slog.Info("Digest scheduled", "job", name, "next_run", next)
	}

	apiHandler := api.NewHandler(engine, c.repo, c.table)
	wsHandler := transport.NewWebSocketHandler(engine, hub, cfg.AllowedOrigins, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	r.Get("/health", apiHandler.Health)
	r.Handle("/metrics", recorder.Handler())

	// Chat routes carry an identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
		r.Handle("/*", web.ChatHandler())
	})

	// Websocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
