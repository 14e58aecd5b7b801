// Package config loads the ledger configuration from a YAML, JSON or TOML
// file and overlays SYNCLEDGER_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/strategy"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/syncqueue"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Remote kinds.
const (
	RemoteNone  = "none"
	RemoteHTTP  = "http"
	RemoteRedis = "redis"
)

// DefaultDSN is the ledger file used when none is configured.
const DefaultDSN = "syncledger.db"

// Config is the complete ledger configuration.
type Config struct {
	Store      StoreConfig               `json:"store" yaml:"store" toml:"store"`
	Remote     RemoteConfig              `json:"remote" yaml:"remote" toml:"remote"`
	Detection  DetectionConfig           `json:"detection" yaml:"detection" toml:"detection"`
	Queue      QueueConfig               `json:"queue" yaml:"queue" toml:"queue"`
	Strategies map[string]StrategyConfig `json:"strategies,omitempty" yaml:"strategies,omitempty" toml:"strategies,omitempty"`
	Logging    logging.Config            `json:"logging" yaml:"logging" toml:"logging"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// RemoteConfig selects the remote repository resolutions replicate to.
type RemoteConfig struct {
	Kind    string   `json:"kind" yaml:"kind" toml:"kind"`
	URL     string   `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Token   string   `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
	Prefix  string   `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// DetectionConfig tunes the conflict detector.
type DetectionConfig struct {
	TimestampTolerance Duration `json:"timestamp_tolerance" yaml:"timestamp_tolerance" toml:"timestamp_tolerance"`

	// FailClosed records a conflict when detection itself fails.
	FailClosed bool `json:"fail_closed" yaml:"fail_closed" toml:"fail_closed"`
}

// QueueConfig mirrors syncqueue.Config with file-friendly durations.
type QueueConfig struct {
	MaxRetries   int      `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     Duration `json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	Multiplier   float64  `json:"multiplier" yaml:"multiplier" toml:"multiplier"`
	Jitter       float64  `json:"jitter" yaml:"jitter" toml:"jitter"`
	Interval     Duration `json:"interval" yaml:"interval" toml:"interval"`
	BatchSize    int      `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
}

// StrategyConfig binds a merge strategy to a record type.
type StrategyConfig struct {
	Strategy string `json:"strategy" yaml:"strategy" toml:"strategy"`
	Resolver string `json:"resolver,omitempty" yaml:"resolver,omitempty" toml:"resolver,omitempty"`
}

// Duration is a time.Duration written as "1s", "250ms" and so on.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Default returns the configuration used when no file is given.
func Default() Config {
	q := syncqueue.DefaultConfig()
	return Config{
		Store:  StoreConfig{Driver: DriverSQLite, DSN: DefaultDSN},
		Remote: RemoteConfig{Kind: RemoteNone, Timeout: Duration(30 * time.Second)},
		Detection: DetectionConfig{
			TimestampTolerance: Duration(time.Second),
		},
		Queue: QueueConfig{
			MaxRetries:   q.MaxRetries,
			InitialDelay: Duration(q.InitialDelay),
			MaxDelay:     Duration(q.MaxDelay),
			Multiplier:   q.Multiplier,
			Jitter:       q.Jitter,
			Interval:     Duration(q.Interval),
			BatchSize:    q.BatchSize,
		},
		Logging: logging.DefaultConfig,
	}
}

// Load reads path over Default, applies the environment and validates the
// result. The format is chosen by file extension.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, syncErrors.NewValidationError(syncErrors.OpLoadConfig, fmt.Errorf("read config: %w", err))
	}
	if err := decode(data, detectFormat(path), &cfg); err != nil {
		return Config{}, syncErrors.NewValidationError(syncErrors.OpLoadConfig, err).
			WithMetadata("path", path)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, syncErrors.NewValidationError(syncErrors.OpLoadConfig, err).
			WithMetadata("path", path)
	}
	return cfg, nil
}

// FromEnv returns Default with the environment applied.
func FromEnv() (Config, error) {
	cfg := Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, syncErrors.NewValidationError(syncErrors.OpLoadConfig, err)
	}
	return cfg, nil
}

func decode(data []byte, format string, cfg *Config) error {
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
	return nil
}

func detectFormat(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "json":
		return "json"
	case "toml":
		return "toml"
	default:
		return "yaml"
	}
}

// ApplyEnv overlays SYNCLEDGER_* variables and the logging environment.
// Unparseable numeric values are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SYNCLEDGER_DB"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("SYNCLEDGER_DB_DRIVER"); v != "" {
		c.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("SYNCLEDGER_REMOTE_KIND"); v != "" {
		c.Remote.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("SYNCLEDGER_REMOTE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv("SYNCLEDGER_REMOTE_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("SYNCLEDGER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.MaxRetries = n
		}
	}
	c.Logging = logging.GetConfigFromEnv(c.Logging)
}

// Validate reports every configuration error found.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %s or %s, got %q", DriverSQLite, DriverPostgres, c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}

	switch c.Remote.Kind {
	case RemoteNone, "":
	case RemoteHTTP, RemoteRedis:
		if c.Remote.URL == "" {
			errs = append(errs, fmt.Errorf("remote.url is required for %s remotes", c.Remote.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown remote.kind %q", c.Remote.Kind))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, errors.New("remote.timeout must not be negative"))
	}
	if c.Detection.TimestampTolerance < 0 {
		errs = append(errs, errors.New("detection.timestamp_tolerance must not be negative"))
	}

	if err := c.QueueConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}
	if _, err := c.Bindings(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// QueueConfig converts the queue section.
func (c Config) QueueConfig() syncqueue.Config {
	return syncqueue.Config{
		MaxRetries:   c.Queue.MaxRetries,
		InitialDelay: c.Queue.InitialDelay.Std(),
		MaxDelay:     c.Queue.MaxDelay.Std(),
		Multiplier:   c.Queue.Multiplier,
		Jitter:       c.Queue.Jitter,
		Interval:     c.Queue.Interval.Std(),
		BatchSize:    c.Queue.BatchSize,
	}
}

// Bindings converts the strategies section. Custom entries without a
// resolver keep it empty so the registry picks the type's default.
func (c Config) Bindings() (map[record.Type]strategy.Binding, error) {
	if len(c.Strategies) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(c.Strategies))
	for name := range c.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[record.Type]strategy.Binding, len(names))
	var errs []error
	for _, name := range names {
		sc := c.Strategies[name]
		t, err := record.ParseType(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("strategies: %w", err))
			continue
		}
		kind, err := strategy.ParseKind(sc.Strategy)
		if err != nil {
			errs = append(errs, fmt.Errorf("strategies.%s: %w", name, err))
			continue
		}
		if kind != strategy.Custom && sc.Resolver != "" {
			errs = append(errs, fmt.Errorf("strategies.%s: strategy %s does not take a resolver", name, kind))
			continue
		}
		out[t] = strategy.Binding{Kind: kind, Resolver: sc.Resolver}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
