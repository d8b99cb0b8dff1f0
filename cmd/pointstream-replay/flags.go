package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
)

// CLIConfig carries the flag and environment settings for one
// invocation. Flags win over environment variables, which win over
// values from a --config file.
type CLIConfig struct {
	ConfigPath  string
	LogPath     string
	RemoteKind  string
	RemoteURL   string
	Token       string
	DryRun      bool
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	ShowHelp    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("POINTSTREAM_REPLAY_CONFIG", ""),
		"Path to YAML replay configuration (env: POINTSTREAM_REPLAY_CONFIG)")

	flag.StringVar(&cfg.LogPath, "log",
		getEnv("POINTSTREAM_REPLAY_LOG", ""),
		"Fallback log file to replay (env: POINTSTREAM_REPLAY_LOG)")

	flag.StringVar(&cfg.RemoteKind, "remote-kind",
		getEnv("POINTSTREAM_REMOTE_KIND", ""),
		"Remote transport: http, nats, websocket (env: POINTSTREAM_REMOTE_KIND)")

	flag.StringVar(&cfg.RemoteURL, "remote-url",
		getEnv("POINTSTREAM_REMOTE_URL", ""),
		"Remote endpoint URL (env: POINTSTREAM_REMOTE_URL)")

	flag.StringVar(&cfg.Token, "token",
		getEnv("POINTSTREAM_TOKEN", ""),
		"Bearer token for http and websocket remotes (env: POINTSTREAM_TOKEN)")

	flag.BoolVar(&cfg.DryRun, "dry-run", false,
		"Decode and summarize the log without sending")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("POINTSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: POINTSTREAM_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("POINTSTREAM_LOG_FORMAT", "text"),
		"Log format: json, text (env: POINTSTREAM_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	// A bare positional argument is the log path.
	if flag.NArg() > 0 && cfg.LogPath == "" {
		cfg.LogPath = flag.Arg(0)
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// --version and --help short-circuit before any real work.
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath == "" && cfg.LogPath == "" {
		return fmt.Errorf("a log path is required (--log, positional argument, or --config)")
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level %q (debug, info, warn, error)", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format %q (json, text)", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Fallback Log Replay

Usage: %s [options] [log-file]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Summarize a fallback log without sending
  %s --dry-run telemetry.psfl

  # Replay into the default HTTP ingest endpoint
  export POINTSTREAM_TOKEN=secret
  %s telemetry.psfl

  # Replay into a NATS cluster
  %s --remote-kind=nats --remote-url=nats://localhost:4222 telemetry.psfl

  # Drive everything from a config file
  %s --config=/etc/pointstream/replay.yaml

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// getEnv reads an environment variable, falling back when unset or
// empty.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
