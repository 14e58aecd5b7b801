package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/strategy"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/syncqueue"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SYNCLEDGER_DB", "SYNCLEDGER_DB_DRIVER", "SYNCLEDGER_REMOTE_KIND",
		"SYNCLEDGER_REMOTE_URL", "SYNCLEDGER_REMOTE_TOKEN", "SYNCLEDGER_MAX_RETRIES",
		"ENVIRONMENT", "LOG_LEVEL", "LOG_FORMAT", "LOG_ADD_SOURCE",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, DefaultDSN, cfg.Store.DSN)
	assert.Equal(t, RemoteNone, cfg.Remote.Kind)
	assert.Equal(t, time.Second, cfg.Detection.TimestampTolerance.Std())
	assert.Equal(t, syncqueue.DefaultConfig(), cfg.QueueConfig())

	bindings, err := cfg.Bindings()
	require.NoError(t, err)
	assert.Nil(t, bindings)
}

func TestLoadFormats(t *testing.T) {
	yamlDoc := `
store:
  driver: postgres
  dsn: postgres://ledger@db/ledger
remote:
  kind: http
  url: https://api.example.com
  timeout: 5s
detection:
  timestamp_tolerance: 250ms
  fail_closed: true
queue:
  max_retries: 5
  initial_delay: 2s
  max_delay: 1m
strategies:
  message:
    strategy: local-wins
  post:
    strategy: custom
    resolver: post-merge
`
	jsonDoc := `{
  "store": {"driver": "postgres", "dsn": "postgres://ledger@db/ledger"},
  "remote": {"kind": "http", "url": "https://api.example.com", "timeout": "5s"},
  "detection": {"timestamp_tolerance": "250ms", "fail_closed": true},
  "queue": {"max_retries": 5, "initial_delay": "2s", "max_delay": "1m"},
  "strategies": {
    "message": {"strategy": "local-wins"},
    "post": {"strategy": "custom", "resolver": "post-merge"}
  }
}`
	tomlDoc := `
[store]
driver = "postgres"
dsn = "postgres://ledger@db/ledger"

[remote]
kind = "http"
url = "https://api.example.com"
timeout = "5s"

[detection]
timestamp_tolerance = "250ms"
fail_closed = true

[queue]
max_retries = 5
initial_delay = "2s"
max_delay = "1m"

[strategies.message]
strategy = "local-wins"

[strategies.post]
strategy = "custom"
resolver = "post-merge"
`

	tests := []struct {
		name string
		file string
		doc  string
	}{
		{"yaml", "ledger.yaml", yamlDoc},
		{"yml", "ledger.yml", yamlDoc},
		{"json", "ledger.json", jsonDoc},
		{"toml", "ledger.toml", tomlDoc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load(writeFile(t, tt.file, tt.doc))
			require.NoError(t, err)

			assert.Equal(t, DriverPostgres, cfg.Store.Driver)
			assert.Equal(t, "postgres://ledger@db/ledger", cfg.Store.DSN)
			assert.Equal(t, RemoteHTTP, cfg.Remote.Kind)
			assert.Equal(t, 5*time.Second, cfg.Remote.Timeout.Std())
			assert.Equal(t, 250*time.Millisecond, cfg.Detection.TimestampTolerance.Std())
			assert.True(t, cfg.Detection.FailClosed)

			q := cfg.QueueConfig()
			assert.Equal(t, 5, q.MaxRetries)
			assert.Equal(t, 2*time.Second, q.InitialDelay)
			assert.Equal(t, time.Minute, q.MaxDelay)
			// Unset fields keep their defaults.
			assert.Equal(t, syncqueue.DefaultConfig().BatchSize, q.BatchSize)

			bindings, err := cfg.Bindings()
			require.NoError(t, err)
			assert.Equal(t, map[record.Type]strategy.Binding{
				record.TypeMessage: {Kind: strategy.LocalWins},
				record.TypePost:    {Kind: strategy.Custom, Resolver: strategy.PostMerge},
			}, bindings)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, syncErrors.HasCode(err, syncErrors.ErrCodeValidationFailure))

	_, err = Load(writeFile(t, "bad.json", `{"store": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON")

	_, err = Load(writeFile(t, "bad.yaml", "queue:\n  initial_delay: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")

	_, err = Load(writeFile(t, "bad.toml", "[store]\ndriver = \"mysql\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNCLEDGER_DB", "/var/lib/ledger.db")
	t.Setenv("SYNCLEDGER_DB_DRIVER", "SQLITE")
	t.Setenv("SYNCLEDGER_REMOTE_KIND", "redis")
	t.Setenv("SYNCLEDGER_REMOTE_URL", "redis://localhost:6379/0")
	t.Setenv("SYNCLEDGER_REMOTE_TOKEN", "tok")
	t.Setenv("SYNCLEDGER_MAX_RETRIES", "7")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ledger.db", cfg.Store.DSN)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, RemoteRedis, cfg.Remote.Kind)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Remote.URL)
	assert.Equal(t, "tok", cfg.Remote.Token)
	assert.Equal(t, 7, cfg.Queue.MaxRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvIgnoresBadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("SYNCLEDGER_MAX_RETRIES", "many")

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"dsn", func(c *Config) { c.Store.DSN = "" }, "store.dsn"},
		{"remote kind", func(c *Config) { c.Remote.Kind = "ftp" }, "remote.kind"},
		{"remote url", func(c *Config) { c.Remote.Kind = RemoteHTTP }, "remote.url"},
		{"tolerance", func(c *Config) { c.Detection.TimestampTolerance = -1 }, "timestamp_tolerance"},
		{"queue", func(c *Config) { c.Queue.Jitter = 2 }, "jitter"},
		{"strategy type", func(c *Config) {
			c.Strategies = map[string]StrategyConfig{"story": {Strategy: "local-wins"}}
		}, "unknown record type"},
		{"strategy kind", func(c *Config) {
			c.Strategies = map[string]StrategyConfig{"post": {Strategy: "newest"}}
		}, "unknown merge strategy"},
		{"stray resolver", func(c *Config) {
			c.Strategies = map[string]StrategyConfig{"media": {Strategy: "local-wins", Resolver: "post-merge"}}
		}, "does not take a resolver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCustomWithoutResolver(t *testing.T) {
	cfg := Default()
	cfg.Strategies = map[string]StrategyConfig{"profile": {Strategy: "custom"}}

	bindings, err := cfg.Bindings()
	require.NoError(t, err)
	assert.Equal(t, strategy.Binding{Kind: strategy.Custom}, bindings[record.TypeProfile])
}

func TestDurationEncoding(t *testing.T) {
	cfg := Default()

	data, err := json.Marshal(cfg.Queue)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_delay":"5m0s"`)

	out, err := yaml.Marshal(cfg.Detection)
	require.NoError(t, err)
	assert.Contains(t, string(out), "timestamp_tolerance: 1s")
}
