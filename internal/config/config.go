// Package config loads and validates scanfleet configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/scanfleet/internal/binder"
	"github.com/JakeFAU/scanfleet/internal/scan"
	"github.com/JakeFAU/scanfleet/internal/worker"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCANFLEET_FLEET_INTERVAL=30s.
const EnvPrefix = "SCANFLEET"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	Parse    ParseConfig    `mapstructure:"parse"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Sink     SinkConfig     `mapstructure:"sink"`
	DB       DBConfig       `mapstructure:"db"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the control-surface HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Disabled runs the fleet without the HTTP server.
	Disabled bool `mapstructure:"disabled"`
	// Only runs the HTTP server without starting any worker.
	Only            bool          `mapstructure:"only"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FleetConfig governs worker binding, pacing and failure tolerance.
type FleetConfig struct {
	// Locations are "lat,lng[,alt]" strings; one entry may hold several
	// separated by "|".
	Locations []string `mapstructure:"locations"`
	// Accounts are "[provider:]username:password" strings.
	Accounts []string `mapstructure:"accounts"`
	// Credentials are structured accounts appended after Accounts.
	Credentials     []scan.Account `mapstructure:"credentials"`
	Mock            bool           `mapstructure:"mock"`
	StartPaused     bool           `mapstructure:"start_paused"`
	Interval        time.Duration  `mapstructure:"interval"`
	Jitter          time.Duration  `mapstructure:"jitter"`
	PausePoll       time.Duration  `mapstructure:"pause_poll"`
	MaxFailures     int            `mapstructure:"max_failures"`
	BackoffBase     time.Duration  `mapstructure:"backoff_base"`
	BackoffMax      time.Duration  `mapstructure:"backoff_max"`
	ScanTimeout     time.Duration  `mapstructure:"scan_timeout"`
	ShutdownTimeout time.Duration  `mapstructure:"shutdown_timeout"`
}

// ParseConfig toggles which entity kinds reach the sink.
type ParseConfig struct {
	Creatures        bool `mapstructure:"creatures"`
	PointsOfInterest bool `mapstructure:"points_of_interest"`
	Structures       bool `mapstructure:"structures"`
}

// RemoteConfig points at the scan gateway used outside mock mode.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
}

// SinkConfig selects the primary entity store and the optional archive.
type SinkConfig struct {
	// Backend is memory, postgres or sqlite.
	Backend string `mapstructure:"backend"`
	// Archive is none, memory, local or gcs.
	Archive string `mapstructure:"archive"`
	// ArchivePrefix is the object prefix for archived scan results.
	ArchivePrefix string `mapstructure:"archive_prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN              string        `mapstructure:"dsn"`
	ScansTable       string        `mapstructure:"scans_table"`
	CreaturesTable   string        `mapstructure:"creatures_table"`
	PointsTable      string        `mapstructure:"points_of_interest_table"`
	StructuresTable  string        `mapstructure:"structures_table"`
	MaxConns         int32         `mapstructure:"max_conns"`
	MinConns         int32         `mapstructure:"min_conns"`
	MaxConnLifetime  time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStartup bool          `mapstructure:"migrate"`
}

// SQLiteConfig controls the embedded SQLite store.
type SQLiteConfig struct {
	Path             string `mapstructure:"path"`
	MigrateOnStartup bool   `mapstructure:"migrate"`
}

// StorageConfig sets blob archive locations.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig configures the lifecycle event hub.
type ProgressConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	LogEnabled        bool          `mapstructure:"log_enabled"`
	PrometheusEnabled bool          `mapstructure:"prometheus_enabled"`
	BufferSize        int           `mapstructure:"buffer_size"`
	BatchMaxEvents    int           `mapstructure:"batch_max_events"`
	BatchMaxWait      time.Duration `mapstructure:"batch_max_wait"`
	SinkTimeout       time.Duration `mapstructure:"sink_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith builds a Config from v, which may already carry bound CLI flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("fleet.mock", false)
	v.SetDefault("fleet.start_paused", false)
	v.SetDefault("fleet.interval", 10*time.Second)
	v.SetDefault("fleet.jitter", 2*time.Second)
	v.SetDefault("fleet.pause_poll", time.Second)
	v.SetDefault("fleet.max_failures", 5)
	v.SetDefault("fleet.backoff_base", time.Second)
	v.SetDefault("fleet.backoff_max", 2*time.Minute)
	v.SetDefault("fleet.scan_timeout", 30*time.Second)
	v.SetDefault("fleet.shutdown_timeout", 10*time.Second)
	v.SetDefault("parse.creatures", true)
	v.SetDefault("parse.points_of_interest", true)
	v.SetDefault("parse.structures", true)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.rps", 0.2)
	v.SetDefault("remote.burst", 1)
	v.SetDefault("sink.backend", "memory")
	v.SetDefault("sink.archive", "none")
	v.SetDefault("sink.archive_prefix", "scans")
	v.SetDefault("db.scans_table", "scans")
	v.SetDefault("db.creatures_table", "creatures")
	v.SetDefault("db.points_of_interest_table", "points_of_interest")
	v.SetDefault("db.structures_table", "structures")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db.migrate", false)
	v.SetDefault("sqlite.path", "scanfleet.db")
	v.SetDefault("sqlite.migrate", true)
	v.SetDefault("storage.local_dir", "data/scans")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_max_events", 256)
	v.SetDefault("progress.batch_max_wait", time.Second)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
//
//nolint:gocyclo // flat list of independent checks
func (c Config) Validate() error {
	if c.Server.Disabled && c.Server.Only {
		return errors.New("server.disabled and server.only are mutually exclusive")
	}
	if !c.Server.Disabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Fleet.Interval <= 0 {
		return errors.New("fleet.interval must be > 0")
	}
	if c.Fleet.Jitter < 0 {
		return errors.New("fleet.jitter must be >= 0")
	}
	if c.Fleet.PausePoll <= 0 {
		return errors.New("fleet.pause_poll must be > 0")
	}
	if c.Fleet.MaxFailures <= 0 {
		return errors.New("fleet.max_failures must be > 0")
	}
	if c.Fleet.BackoffBase <= 0 || c.Fleet.BackoffMax < c.Fleet.BackoffBase {
		return errors.New("fleet.backoff_base must be > 0 and <= fleet.backoff_max")
	}
	if !c.Parse.Creatures && !c.Parse.PointsOfInterest && !c.Parse.Structures {
		return errors.New("parse: at least one entity kind must be enabled")
	}
	if !c.Fleet.Mock && !c.Server.Only && strings.TrimSpace(c.Remote.BaseURL) == "" {
		return errors.New("remote.base_url is required unless fleet.mock is set")
	}
	switch c.Sink.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("sink.backend %q must be memory, postgres or sqlite", c.Sink.Backend)
	}
	switch c.Sink.Archive {
	case "", "none", "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("sink.archive %q must be none, memory, local or gcs", c.Sink.Archive)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Locations parses the configured scan locations.
func (c Config) Locations() ([]scan.Location, error) {
	locations, err := binder.ParseLocations(c.Fleet.Locations)
	if err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}
	return locations, nil
}

// Accounts parses the configured accounts, string entries first.
func (c Config) Accounts() ([]scan.Account, error) {
	accounts, err := binder.ParseAccounts(c.Fleet.Accounts)
	if err != nil {
		return nil, fmt.Errorf("parse accounts: %w", err)
	}
	for i, acct := range c.Fleet.Credentials {
		if acct.Username == "" || acct.Password == "" {
			return nil, scan.NewConfigurationError("fleet.credentials[%d] is missing username or password", i)
		}
		if acct.Provider == "" {
			acct.Provider = "ptc"
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// Filter returns the entity filter described by the parse section.
func (c Config) Filter() scan.EntityFilter {
	return scan.EntityFilter{
		Creatures:        c.Parse.Creatures,
		PointsOfInterest: c.Parse.PointsOfInterest,
		Structures:       c.Parse.Structures,
	}
}

// WorkerConfig converts the fleet section into per-worker settings.
func (c Config) WorkerConfig() worker.Config {
	return worker.Config{
		Interval:    c.Fleet.Interval,
		Jitter:      c.Fleet.Jitter,
		PausePoll:   c.Fleet.PausePoll,
		MaxFailures: c.Fleet.MaxFailures,
		Backoff:     worker.Backoff{Base: c.Fleet.BackoffBase, Max: c.Fleet.BackoffMax},
		ScanTimeout: c.Fleet.ScanTimeout,
		Filter:      c.Filter(),
	}
}
