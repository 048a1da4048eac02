package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/deadlinebot/internal/chat"
	"github.com/ashureev/deadlinebot/internal/config"
	"github.com/ashureev/deadlinebot/internal/metrics"
	"github.com/ashureev/deadlinebot/internal/reminder"
	"github.com/ashureev/deadlinebot/internal/transport"
)

// runDigest fires one digest now. Delivery goes over NATS; there are no
// websocket clients in a one-shot process.
func runDigest(cfg *config.Config, kindName string, dryRun bool) error {
	kind, err := reminder.ParseKind(kindName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openCore(ctx, cfg, metrics.NewRecorder(nil))
	if err != nil {
		return err
	}
	defer c.close()

	var sender chat.Sender
	switch {
	case dryRun:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		sender = chat.SenderFunc(func(_ context.Context, msg chat.Outbound) error {
			return enc.Encode(msg)
		})
	case cfg.NATSURL != "":
		bridge, err := transport.NewNATSBridge(cfg.NATSURL, cfg.NATSPrefix, nil)
		if err != nil {
			return err
		}
		defer bridge.Close()
		sender = bridge
	default:
		return errors.New("digest needs NATS_URL or --dry-run")
	}

	runner, err := reminder.NewRunner(reminder.RunnerConfig{
		Shared:      c.table,
		Records:     c.repo,
		Sender:      sender,
		Location:    cfg.Location(),
		SendTimeout: cfg.DispatchTimeout,
	})
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx, kind, time.Now().In(cfg.Location()))
	if err != nil {
		return fmt.Errorf("run %s digest: %w", kind, err)
	}
	slog.Info("Digest complete",
		"kind", string(report.Kind),
		"run_id", report.RunID,
		"recipients", report.Recipients,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d digests failed", report.Failed, report.Recipients)
	}
	return nil
}
