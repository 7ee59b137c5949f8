// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feedbackhub/rollup/pkg/utils/ptr"
)

// ErrNoConfigVersion error is returned when the configuration does not specify
// config format version.
var ErrNoConfigVersion = errors.New("config format version not specified")

// ErrUnsupportedVersion is an error, which is returned when the config file
// uses an incompatible version format.
var ErrUnsupportedVersion = errors.New("unsupported config format version")

// ErrInvalidLockDriver is an error, which is returned when the configured lock
// driver is not supported.
var ErrInvalidLockDriver = errors.New("invalid lock driver")

// ConfigFormatVersion represents the supported config format version.
const ConfigFormatVersion = "v1alpha1"

// DefaultQueueName is the name of the default queue, if none has been
// configured.
const DefaultQueueName = "default"

const (
	// LockDriverPostgres stores leases in the shared PostgreSQL database.
	LockDriverPostgres = "postgres"

	// LockDriverMemory keeps leases in process memory. Only suitable for
	// deployments with a single replica.
	LockDriverMemory = "memory"
)

const (
	// DefaultRetentionLockTTL is the lease TTL of the retention job.
	DefaultRetentionLockTTL = 5 * time.Minute

	// DefaultAggregationLockTTL is the lease TTL of the aggregation job.
	DefaultAggregationLockTTL = 10 * time.Minute

	// DefaultHousekeeperLockTTL is the lease TTL of the housekeeper job.
	DefaultHousekeeperLockTTL = 5 * time.Minute

	// DefaultJobRunRetention is the age past which job run records are
	// deleted by the housekeeper.
	DefaultJobRunRetention = 30 * 24 * time.Hour

	// DefaultLockPurgeAfter is the age after expiry past which lock rows
	// are purged.
	DefaultLockPurgeAfter = 7 * 24 * time.Hour

	// DefaultSyncInterval is the interval at which the scheduler re-reads
	// the project directory.
	DefaultSyncInterval = 10 * time.Minute

	// DefaultDaysToCreate is the number of past days each aggregation run
	// covers.
	DefaultDaysToCreate = 1

	// DefaultRetentionPageSize is the max number of feedback ids fetched at
	// once by the retention job.
	DefaultRetentionPageSize = 1000
)

// Config represents the rollup configuration.
type Config struct {
	// Version is the version of the config file.
	Version string `yaml:"version"`

	// Debug configures debug mode, if set to true.
	Debug bool `yaml:"debug"`

	// Environment is the name of the deployment environment, e.g.
	// production, staging or test.
	Environment string `yaml:"environment"`

	// Logging provides the logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Redis represents the Redis configuration
	Redis RedisConfig `yaml:"redis"`

	// Database represents the database configuration.
	Database DatabaseConfig `yaml:"database"`

	// Worker represents the worker configuration.
	Worker WorkerConfig `yaml:"worker"`

	// Scheduler represents the scheduler configuration.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Lock represents the distributed lock configuration.
	Lock LockConfig `yaml:"lock"`

	// Aggregation represents the statistics aggregation settings.
	Aggregation AggregationConfig `yaml:"aggregation"`

	// Retention represents the feedback retention settings.
	Retention RetentionConfig `yaml:"retention"`

	// Housekeeper represents the housekeeper settings.
	Housekeeper HousekeeperConfig `yaml:"housekeeper"`

	// Metrics represents the metrics server configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Dashboard represents the queue dashboard configuration.
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// LoggingConfig provides the logging configuration.
type LoggingConfig struct {
	// Level specifies the log level, e.g. info, warn, error, debug.
	Level string `yaml:"level"`

	// Format specifies the log format, e.g. text or json.
	Format string `yaml:"format"`

	// AddSource adds the source code position to log events.
	AddSource bool `yaml:"add_source"`

	// Attributes are extra attributes added to every log event.
	Attributes map[string]string `yaml:"attributes"`
}

// RedisConfig provides Redis specific configuration settings.
type RedisConfig struct {
	// Endpoint is the endpoint of the Redis service.
	Endpoint string `yaml:"endpoint"`
}

// DatabaseConfig provides database specific configuration settings.
type DatabaseConfig struct {
	// DSN is the Data Source Name to connect to.
	DSN string `yaml:"dsn"`

	// MigrationDirectory specifies an alternate location with migration
	// files.
	MigrationDirectory string `yaml:"migration_dir"`
}

// WorkerConfig provides worker specific configuration settings.
type WorkerConfig struct {
	// Concurrency specifies the concurrency level for workers.
	Concurrency int `yaml:"concurrency"`

	// Queues specifies the queues and their priorities.
	Queues map[string]int `yaml:"queues"`

	// StrictPriority specifies whether queue priority is treated
	// strictly.
	StrictPriority bool `yaml:"strict_priority"`
}

// SchedulerConfig provides the settings of the in-process scheduler.
type SchedulerConfig struct {
	// Enabled specifies whether jobs are scheduled at all. Defaults to
	// true when not set.
	Enabled *bool `yaml:"enabled"`

	// DisabledEnvironments lists the environments in which scheduling
	// is suppressed.
	DisabledEnvironments []string `yaml:"disabled_environments"`

	// SyncInterval specifies how often the project directory is re-read
	// in order to pick up new, changed or removed projects.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// RetentionHour is the UTC hour at which the retention job fires.
	RetentionHour int `yaml:"retention_hour"`

	// RetentionMinute is the minute at which the retention job fires.
	RetentionMinute int `yaml:"retention_minute"`
}

// LockConfig provides the distributed lock settings.
type LockConfig struct {
	// Driver specifies the lock store, either postgres or memory.
	Driver string `yaml:"driver"`

	// AggregationTTL is the lease TTL of aggregation jobs.
	AggregationTTL time.Duration `yaml:"aggregation_ttl"`

	// RetentionTTL is the lease TTL of the retention job.
	RetentionTTL time.Duration `yaml:"retention_ttl"`

	// HousekeeperTTL is the lease TTL of the housekeeper job.
	HousekeeperTTL time.Duration `yaml:"housekeeper_ttl"`

	// PurgeAfter specifies how long expired lock rows are kept.
	PurgeAfter time.Duration `yaml:"purge_after"`
}

// AggregationConfig provides the statistics aggregation settings.
type AggregationConfig struct {
	// DaysToCreate is the number of past local days covered by a
	// scheduled aggregation run.
	DaysToCreate int `yaml:"days_to_create"`
}

// RetentionConfig provides the feedback retention settings.
type RetentionConfig struct {
	// PageSize is the max number of feedback ids deleted at once.
	PageSize int `yaml:"page_size"`
}

// HousekeeperConfig provides the settings of the housekeeper job, which
// purges expired leases and old job run records.
type HousekeeperConfig struct {
	// Enabled specifies whether the scheduler runs the housekeeper.
	// Defaults to true when not set.
	Enabled *bool `yaml:"enabled"`

	// Hour is the UTC hour at which the housekeeper fires.
	Hour int `yaml:"hour"`

	// Minute is the minute at which the housekeeper fires.
	Minute int `yaml:"minute"`

	// JobRunRetention specifies how long job run records are kept.
	JobRunRetention time.Duration `yaml:"job_run_retention"`
}

// MetricsConfig provides the metrics server settings.
type MetricsConfig struct {
	// Address specifies the address on which metrics are served.
	Address string `yaml:"address"`

	// Path specifies the HTTP path of the metrics handler.
	Path string `yaml:"path"`
}

// DashboardConfig provides the settings of the queue dashboard.
type DashboardConfig struct {
	// Address specifies the address on which the dashboard is served.
	Address string `yaml:"address"`

	// ReadOnly starts the dashboard in read-only mode.
	ReadOnly bool `yaml:"read_only"`

	// PrometheusEndpoint is the Prometheus endpoint used by the
	// dashboard for queue metrics.
	PrometheusEndpoint string `yaml:"prometheus_endpoint"`
}

// SchedulingEnabled returns true, if jobs should be scheduled in the
// configured environment.
func (c *Config) SchedulingEnabled() bool {
	if !ptr.Value(c.Scheduler.Enabled, true) {
		return false
	}

	return !slices.Contains(c.Scheduler.DisabledEnvironments, c.Environment)
}

// HousekeeperEnabled returns true, if the scheduler should run the
// housekeeper.
func (c *Config) HousekeeperEnabled() bool {
	return ptr.Value(c.Housekeeper.Enabled, true)
}

// setDefaults fills in the settings, which were not configured.
func (c *Config) setDefaults() {
	if c.Scheduler.DisabledEnvironments == nil {
		c.Scheduler.DisabledEnvironments = []string{"test"}
	}
	if c.Scheduler.SyncInterval <= 0 {
		c.Scheduler.SyncInterval = DefaultSyncInterval
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = LockDriverPostgres
	}
	if c.Lock.AggregationTTL <= 0 {
		c.Lock.AggregationTTL = DefaultAggregationLockTTL
	}
	if c.Lock.RetentionTTL <= 0 {
		c.Lock.RetentionTTL = DefaultRetentionLockTTL
	}
	if c.Lock.HousekeeperTTL <= 0 {
		c.Lock.HousekeeperTTL = DefaultHousekeeperLockTTL
	}
	if c.Housekeeper.JobRunRetention <= 0 {
		c.Housekeeper.JobRunRetention = DefaultJobRunRetention
	}
	if c.Lock.PurgeAfter <= 0 {
		c.Lock.PurgeAfter = DefaultLockPurgeAfter
	}
	if c.Aggregation.DaysToCreate <= 0 {
		c.Aggregation.DaysToCreate = DefaultDaysToCreate
	}
	if c.Retention.PageSize <= 0 {
		c.Retention.PageSize = DefaultRetentionPageSize
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// validate checks the settings which cannot be defaulted.
func (c *Config) validate() error {
	switch c.Lock.Driver {
	case LockDriverPostgres, LockDriverMemory:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidLockDriver, c.Lock.Driver)
	}

	if c.Scheduler.RetentionHour < 0 || c.Scheduler.RetentionHour > 23 {
		return fmt.Errorf("invalid retention hour: %d", c.Scheduler.RetentionHour)
	}

	if c.Scheduler.RetentionMinute < 0 || c.Scheduler.RetentionMinute > 59 {
		return fmt.Errorf("invalid retention minute: %d", c.Scheduler.RetentionMinute)
	}

	if c.Housekeeper.Hour < 0 || c.Housekeeper.Hour > 23 {
		return fmt.Errorf("invalid housekeeper hour: %d", c.Housekeeper.Hour)
	}

	if c.Housekeeper.Minute < 0 || c.Housekeeper.Minute > 59 {
		return fmt.Errorf("invalid housekeeper minute: %d", c.Housekeeper.Minute)
	}

	return nil
}

// Parse parses the config from the given path.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseBytes(data)
}

// ParseBytes parses the config from the given YAML document.
func ParseBytes(data []byte) (*Config, error) {
	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return nil, err
	}

	if conf.Version == "" {
		return nil, ErrNoConfigVersion
	}

	if conf.Version != ConfigFormatVersion {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, conf.Version)
	}

	conf.setDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

// MustParse parses the config from the given path, or panics in case of errors.
func MustParse(path string) *Config {
	config, err := Parse(path)
	if err != nil {
		panic(err)
	}

	return config
}
