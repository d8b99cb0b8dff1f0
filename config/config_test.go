package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pointstream/errors"
)

func TestStreamConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      StreamConfig
		wantCode errors.Code
	}{
		{
			"token plus fallback",
			StreamConfig{DatasetID: "ds", Token: "tok", FallbackPath: "/tmp/fb.log"},
			errors.CodeSuccess,
		},
		{
			"token only",
			StreamConfig{DatasetID: "ds", Token: "tok"},
			errors.CodeSuccess,
		},
		{
			"fallback only",
			StreamConfig{DatasetID: "ds", FallbackPath: "/tmp/fb.log"},
			errors.CodeSuccess,
		},
		{
			"missing dataset",
			StreamConfig{Token: "tok"},
			errors.CodeInvalidParam,
		},
		{
			"no destination at all",
			StreamConfig{DatasetID: "ds"},
			errors.CodeInvalidParam,
		},
		{
			"relative remote url",
			StreamConfig{DatasetID: "ds", Token: "tok", RemoteURL: "/just/a/path"},
			errors.CodeInvalidParam,
		},
		{
			"bad engine tuning",
			StreamConfig{DatasetID: "ds", Token: "tok", Engine: EngineConfig{Workers: -1}},
			errors.CodeInvalidParam,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Setenv(EnvToken, "")
			err := test.cfg.Validate()
			assert.Equal(t, test.wantCode, errors.CodeOf(err), "err: %v", err)
		})
	}
}

func TestStreamConfig_ResolveToken(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(EnvToken, "env-token")
		cfg := StreamConfig{Token: "explicit"}
		assert.Equal(t, "explicit", cfg.ResolveToken())
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv(EnvToken, "env-token")
		cfg := StreamConfig{}
		assert.Equal(t, "env-token", cfg.ResolveToken())
	})

	t.Run("env whitespace trimmed", func(t *testing.T) {
		t.Setenv(EnvToken, "  padded \n")
		cfg := StreamConfig{}
		assert.Equal(t, "padded", cfg.ResolveToken())
	})

	t.Run("neither", func(t *testing.T) {
		t.Setenv(EnvToken, "")
		cfg := StreamConfig{}
		assert.Equal(t, "", cfg.ResolveToken())
	})
}

func TestStreamConfig_EnvTokenSatisfiesValidation(t *testing.T) {
	t.Setenv(EnvToken, "env-token")
	cfg := StreamConfig{DatasetID: "ds"}
	assert.NoError(t, cfg.Validate(), "env token counts as a destination")
}

func TestDefaultStreamConfig(t *testing.T) {
	cfg := DefaultStreamConfig("ds-7")
	assert.Equal(t, "ds-7", cfg.DatasetID)
	assert.Equal(t, DefaultIngestURL, cfg.RemoteURL)
	assert.Equal(t, DefaultEngineConfig(), cfg.Engine)
}

func TestEngineConfig_Normalized(t *testing.T) {
	got := EngineConfig{}.Normalized()
	assert.Equal(t, DefaultEngineConfig(), got)

	partial := EngineConfig{Workers: 2, StrictTypes: true}.Normalized()
	assert.Equal(t, 2, partial.Workers)
	assert.True(t, partial.StrictTypes)
	assert.Equal(t, DefaultEngineConfig().BatchThreshold, partial.BatchThreshold)
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EngineConfig
		wantErr bool
	}{
		{"zero is fine", EngineConfig{}, false},
		{"defaults are fine", DefaultEngineConfig(), false},
		{"negative workers", EngineConfig{Workers: -1}, true},
		{"huge workers", EngineConfig{Workers: 1000}, true},
		{"negative threshold", EngineConfig{BatchThreshold: -5}, true},
		{"threshold above max size", EngineConfig{BatchThreshold: 100, MaxBatchSize: 10}, true},
		{"negative retry", EngineConfig{RetryAttempts: -1}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidParam, errors.CodeOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngineConfig_Conversions(t *testing.T) {
	cfg := EngineConfig{
		MaxBatchAgeMS:  250,
		RetryAttempts:  5,
		RetryInitialMS: 50,
		RetryMaxMS:     2000,
	}

	assert.Equal(t, 250*time.Millisecond, cfg.MaxBatchAge())

	rc := cfg.RetryConfig()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, rc.InitialDelay)
	assert.Equal(t, 2*time.Second, rc.MaxDelay)
	assert.True(t, rc.AddJitter)
}

func TestRemoteConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RemoteConfig
		wantErr bool
	}{
		{"http", RemoteConfig{Kind: RemoteHTTP, URL: "https://x/ingest"}, false},
		{"nats", RemoteConfig{Kind: RemoteNATS, URL: "nats://localhost:4222"}, false},
		{"websocket", RemoteConfig{Kind: RemoteWebSocket, URL: "wss://x/feed"}, false},
		{"empty kind allowed", RemoteConfig{URL: "https://x"}, false},
		{"unknown kind", RemoteConfig{Kind: "carrier-pigeon", URL: "x"}, true},
		{"missing url", RemoteConfig{Kind: RemoteHTTP}, true},
		{"negative timeout", RemoteConfig{Kind: RemoteHTTP, URL: "https://x", TimeoutMS: -1}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if test.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRemoteConfig_Normalized(t *testing.T) {
	got := RemoteConfig{URL: "nats://localhost:4222"}.Normalized()
	assert.Equal(t, RemoteHTTP, got.Kind)
	assert.Equal(t, "telemetry", got.SubjectPrefix)
	assert.Equal(t, 30*time.Second, got.Timeout())
}

func TestLoadReplayConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "replay.yaml")
		content := `
log: /var/spool/pointstream/fallback.log
remote:
  kind: nats
  url: nats://localhost:4222
  subject_prefix: replayed
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := LoadReplayConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/spool/pointstream/fallback.log", cfg.Log)
		assert.Equal(t, RemoteNATS, cfg.Remote.Kind)
		assert.Equal(t, "replayed", cfg.Remote.SubjectPrefix)
		assert.Equal(t, 30000, cfg.Remote.TimeoutMS, "normalized default")
	})

	t.Run("dry run needs no remote", func(t *testing.T) {
		path := filepath.Join(dir, "dry.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log: /tmp/x.log\ndry_run: true\n"), 0o644))

		cfg, err := LoadReplayConfig(path)
		require.NoError(t, err)
		assert.True(t, cfg.DryRun)
	})

	t.Run("missing log path", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("remote:\n  url: https://x\n"), 0o644))

		_, err := LoadReplayConfig(path)
		require.Error(t, err)
		assert.Equal(t, errors.CodeInvalidParam, errors.CodeOf(err))
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := LoadReplayConfig(filepath.Join(dir, "does-not-exist.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "mangled.yaml")
		require.NoError(t, os.WriteFile(path, []byte(":\n\t-:::"), 0o644))

		_, err := LoadReplayConfig(path)
		assert.Error(t, err)
	})
}
