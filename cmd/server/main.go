// Deadline bot server: conversational deadline assistant and reminder dispatcher.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/ashureev/deadlinebot/internal/config"
	"github.com/joho/godotenv"
)

var CLI struct {
	EnvFile string `help:"Dotenv file loaded before reading the environment" default:".env" type:"path"`

	Serve struct{} `cmd:"" default:"1" help:"Run the chat server and the digest scheduler"`

	Digest struct {
		Kind   string `short:"k" required:"" enum:"next_day,next_week" help:"Digest to send (next_day or next_week)"`
		DryRun bool   `help:"Print digests to stdout instead of publishing them"`
	} `cmd:"" help:"Send one digest immediately and exit"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("deadlinebot"),
		kong.Description("Conversational deadline assistant with scheduled reminders."),
	)

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := godotenv.Load(CLI.EnvFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", CLI.EnvFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg)
	if err != nil {
		slog.Error("Failed to open log file", "error", err, "path", cfg.LogFile)
		os.Exit(1)
	}
	defer closeLog()

	switch ctx.Command() {
	case "serve":
		err = runServe(cfg)
	case "digest":
		err = runDigest(cfg, CLI.Digest.Kind, CLI.Digest.DryRun)
	default:
		err = fmt.Errorf("unknown command %q", ctx.Command())
	}
	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		closeLog()
		os.Exit(1)
	}
}

// setupLogger installs the JSON logger at the configured level. With LOG_FILE
// set, records also go to that file.
func setupLogger(cfg *config.Config) (func(), error) {
	var out io.Writer = os.Stdout
	closeFn := func() {}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return closeFn, err
		}
		out = io.MultiWriter(os.Stdout, f)
		closeFn = func() { _ = f.Close() }
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return closeFn, nil
}
