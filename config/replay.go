package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/c360/pointstream/errors"
)

// ReplayConfig drives the pointstream-replay tool: which fallback log
// to read and which remote to feed it into.
type ReplayConfig struct {
	// Log is the fallback log file to replay.
	Log string `json:"log" yaml:"log"`

	// Remote receives the replayed batches.
	Remote RemoteConfig `json:"remote" yaml:"remote"`

	// DryRun decodes and summarizes the log without sending.
	DryRun bool `json:"dry_run" yaml:"dry_run"`
}

// Validate checks the replay configuration for errors.
func (c *ReplayConfig) Validate() error {
	if c.Log == "" {
		return errors.WrapInvalidParam(errors.ErrInvalidConfig,
			"ReplayConfig", "Validate", "log path is required")
	}
	if c.DryRun {
		// No remote needed when only inspecting.
		return nil
	}
	return c.Remote.Validate()
}

// LoadReplayConfig reads and validates a YAML replay configuration.
func LoadReplayConfig(path string) (ReplayConfig, error) {
	var cfg ReplayConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "ReplayConfig", "LoadReplayConfig", "read file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalidParam(err, "ReplayConfig", "LoadReplayConfig", "parse yaml")
	}

	cfg.Remote = cfg.Remote.Normalized()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
