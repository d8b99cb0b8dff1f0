package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pointstream/config"
	"github.com/c360/pointstream/point"
	"github.com/c360/pointstream/sink"
)

func writeTestLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fallback.psfl")
	log, err := sink.OpenLog(path, uuid.New())
	require.NoError(t, err)
	defer log.Close()

	batches := []point.Batch{
		{
			Dataset: "dataset-1",
			Channel: point.Descriptor{Name: "temperature", Tags: []point.Tag{{Key: "experiment", Value: "1"}}},
			Type:    point.TypeFloat64,
			Points: []point.Point{
				{Timestamp: 1000, Value: point.Float64Value(20.0)},
				{Timestamp: 2000, Value: point.Float64Value(20.5)},
			},
		},
		{
			Dataset: "dataset-1",
			Channel: point.Descriptor{Name: "status"},
			Type:    point.TypeString,
			Points: []point.Point{
				{Timestamp: 3000, Value: point.StringValue("ok")},
			},
		},
	}
	for _, b := range batches {
		_, err := log.Append(b)
		require.NoError(t, err)
	}
	return path
}

func TestSummarizeLog(t *testing.T) {
	path := writeTestLog(t)

	summary, err := summarizeLog(path)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.Source)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 3, summary.Points)
	assert.Equal(t, uint64(1000), summary.First)
	assert.Equal(t, uint64(3000), summary.Last)
	assert.Equal(t, map[string]int{
		"temperature{experiment=1}": 2,
		"status":                    1,
	}, summary.Channels)
}

func TestSummarizeLog_MissingFile(t *testing.T) {
	_, err := summarizeLog(filepath.Join(t.TempDir(), "absent.psfl"))
	assert.Error(t, err)
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	configYAML := `
log: /var/lib/pointstream/old.psfl
remote:
  kind: http
  url: https://file.example/v1/ingest
  token: file-token
`
	configPath := filepath.Join(t.TempDir(), "replay.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0o644))

	cfg, err := resolveConfig(&CLIConfig{
		ConfigPath: configPath,
		LogPath:    "/tmp/new.psfl",
		RemoteURL:  "https://flag.example/v1/ingest",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/new.psfl", cfg.Log)
	assert.Equal(t, config.RemoteHTTP, cfg.Remote.Kind)
	assert.Equal(t, "https://flag.example/v1/ingest", cfg.Remote.URL)
	assert.Equal(t, "file-token", cfg.Remote.Token, "file value survives when no flag override")
	assert.False(t, cfg.DryRun)
}

func TestResolveConfig_FlagsOnly(t *testing.T) {
	cfg, err := resolveConfig(&CLIConfig{
		LogPath:    "/tmp/fallback.psfl",
		RemoteKind: "nats",
		RemoteURL:  "nats://localhost:4222",
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/fallback.psfl", cfg.Log)
	assert.Equal(t, config.RemoteNATS, cfg.Remote.Kind)
	assert.Equal(t, 30000, cfg.Remote.TimeoutMS, "defaults fill in")
}

func TestResolveConfig_DryRunNeedsNoRemote(t *testing.T) {
	cfg, err := resolveConfig(&CLIConfig{
		LogPath: "/tmp/fallback.psfl",
		DryRun:  true,
	})
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)
}

func TestResolveConfig_MissingLog(t *testing.T) {
	_, err := resolveConfig(&CLIConfig{RemoteURL: "https://example.com"})
	assert.Error(t, err)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{
			name: "log path via flag",
			cfg:  CLIConfig{LogPath: "x.psfl", LogLevel: "info", LogFormat: "text"},
		},
		{
			name:    "no log and no config",
			cfg:     CLIConfig{LogLevel: "info", LogFormat: "text"},
			wantErr: true,
		},
		{
			name:    "bad log level",
			cfg:     CLIConfig{LogPath: "x.psfl", LogLevel: "loud", LogFormat: "text"},
			wantErr: true,
		},
		{
			name:    "bad log format",
			cfg:     CLIConfig{LogPath: "x.psfl", LogLevel: "info", LogFormat: "xml"},
			wantErr: true,
		},
		{
			name:    "missing config file",
			cfg:     CLIConfig{ConfigPath: "/no/such/replay.yaml", LogLevel: "info", LogFormat: "text"},
			wantErr: true,
		},
		{
			name: "version short-circuits",
			cfg:  CLIConfig{ShowVersion: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
