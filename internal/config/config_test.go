package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 8000, cfg.Server.Port)
	require.False(t, cfg.Redis.Enabled)
	require.False(t, cfg.Postgres.Enabled)
	require.False(t, cfg.S3.Enabled)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeFile(t, `
log_level = "debug"

[server]
port = 9001
cors_origins = ["http://a.example"]

[redis]
enabled = true
addr = "redis:6379"

[snapshot]
interval = "30s"
`)
	t.Setenv("POOLREG_SERVER_PORT", "9100")
	t.Setenv("POOLREG_REDIS_PASSWORD", "hunter2")
	t.Setenv("POOLREG_NOTIFY_EVENTS", "pool_deleted, pool_created ,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, []string{"http://a.example"}, cfg.Server.CORSOrigins)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "hunter2", cfg.Redis.Password)
	require.Equal(t, 30*time.Second, cfg.Snapshot.Interval.Duration)
	require.Equal(t, []string{"pool_deleted", "pool_created"}, cfg.Notify.Events)
	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Defaults().Server.Port, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.Server.Port = 0
	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "nope"}
	cfg.Snapshot.Enabled = true
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "unknown log_level")
	require.Contains(t, msg, "server: port")
	require.Contains(t, msg, "rate_limit requires redis.enabled")
	require.Contains(t, msg, `trusted_proxies: "nope" is not an IP or CIDR`)
	require.NotContains(t, msg, "10.0.0.0/8")
	require.Contains(t, msg, "snapshot: requires s3.enabled")
	require.Contains(t, msg, "telegram_token and telegram_chat_id")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Server.APIKey = "secret"
	cfg.Postgres.Password = "pw"
	cfg.Server.CORSOrigins = []string{"x"}

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Server.APIKey)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "", out.Redis.Password)
	require.Equal(t, "secret", cfg.Server.APIKey)

	out.Server.CORSOrigins[0] = "y"
	require.Equal(t, "x", cfg.Server.CORSOrigins[0])
}
