// Package main implements the pointstream-replay tool. It reads an
// append-only fallback log produced by the ingestion client and
// replays its batches into a remote sink, or summarizes the log
// without sending when run with --dry-run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/pkg/timestamp"
	"github.com/c360/pointstream/sink"
)

// Tool identity reported by --version and attached to every log line.
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "pointstream-replay"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "panic: %v\n\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Replay failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := resolveConfig(cliCfg)
	if err != nil {
		return err
	}

	if cfg.DryRun {
		return dryRun(cfg.Log, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return replay(ctx, cfg, logger)
}

// resolveConfig merges the optional YAML config file with CLI flag
// overrides. Flags win over file values.
func resolveConfig(cliCfg *CLIConfig) (config.ReplayConfig, error) {
	var cfg config.ReplayConfig
	if cliCfg.ConfigPath != "" {
		loaded, err := config.LoadReplayConfig(cliCfg.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if cliCfg.LogPath != "" {
		cfg.Log = cliCfg.LogPath
	}
	if cliCfg.RemoteKind != "" {
		cfg.Remote.Kind = cliCfg.RemoteKind
	}
	if cliCfg.RemoteURL != "" {
		cfg.Remote.URL = cliCfg.RemoteURL
	}
	if cliCfg.Token != "" {
		cfg.Remote.Token = cliCfg.Token
	}
	if cliCfg.DryRun {
		cfg.DryRun = true
	}

	cfg.Remote = cfg.Remote.Normalized()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// dryRun walks the log and reports what a replay would send.
func dryRun(path string, logger *slog.Logger) error {
	summary, err := summarizeLog(path)
	if err != nil {
		return err
	}

	logger.Info("Fallback log summary",
		"log", path,
		"source", summary.Source,
		"records", summary.Records,
		"points", summary.Points,
		"first", timestamp.Format(summary.First),
		"last", timestamp.Format(summary.Last))
	for key, pts := range summary.Channels {
		logger.Info("Channel", "channel", key, "points", pts)
	}
	return nil
}

// logSummary aggregates a dry-run pass over a fallback log.
type logSummary struct {
	Source   string
	Records  int
	Points   int
	First    uint64
	Last     uint64
	Channels map[string]int
}

func summarizeLog(path string) (logSummary, error) {
	summary := logSummary{Channels: make(map[string]int)}

	reader, err := sink.OpenLogReader(path)
	if err != nil {
		return summary, err
	}
	defer func() { _ = reader.Close() }()

	summary.Source = reader.Source().String()
	for {
		batch, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return summary, nil
			}
			return summary, err
		}
		summary.Records++
		summary.Points += batch.Len()
		summary.Channels[batch.Channel.Key()] += batch.Len()
		for _, p := range batch.Points {
			if summary.First == 0 || p.Timestamp < summary.First {
				summary.First = p.Timestamp
			}
			if p.Timestamp > summary.Last {
				summary.Last = p.Timestamp
			}
		}
	}
}

func replay(ctx context.Context, cfg config.ReplayConfig, logger *slog.Logger) error {
	remote, err := sink.NewRemote(cfg.Remote, logger)
	if err != nil {
		return err
	}
	defer func() { _ = remote.Close() }()

	logger.Info("Starting fallback replay",
		"log", cfg.Log,
		"remote_kind", cfg.Remote.Kind,
		"remote_url", cfg.Remote.URL)

	stats, err := sink.Replay(ctx, cfg.Log, remote, logger)
	if err != nil {
		logger.Error("Replay aborted",
			"records_sent", stats.Records,
			"points_sent", stats.Points,
			"error", err)
		return err
	}

	logger.Info("Replay finished",
		"records_sent", stats.Records,
		"points_sent", stats.Points)
	return nil
}
