// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/olekukonko/tablewriter"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"

	"github.com/feedbackhub/rollup/internal/pkg/migrations"
	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/lock"
	dbutils "github.com/feedbackhub/rollup/pkg/utils/db"
)

// na is the value printed in tables for missing values.
const na = "N/A"

// errNoRedisEndpoint is returned when the Redis endpoint is not configured.
var errNoRedisEndpoint = errors.New("no redis endpoint specified")

// errNoDashboardAddress is returned when the dashboard address is not
// configured.
var errNoDashboardAddress = errors.New("no dashboard address specified")

// errProcessLocalLock is returned when a worker is configured with the memory
// lock driver. Its leases are not visible to the scheduler process, so an
// on-demand aggregation could run alongside a scheduled one.
var errProcessLocalLock = errors.New("memory lock driver is not shared with the scheduler")

// configKey is the key used to store the parsed configuration in the
// context.
type configKey struct{}

// getConfig extracts and returns the [config.Config] from app context.
func getConfig(ctx *cli.Context) *config.Config {
	conf, ok := ctx.Context.Value(configKey{}).(*config.Config)
	if !ok {
		panic("cannot get config from context")
	}

	return conf
}

// validateDBConfig validates the database configuration settings.
func validateDBConfig(conf *config.Config) error {
	if conf.Database.DSN == "" {
		return dbutils.ErrInvalidDSN
	}

	return nil
}

// validateRedisConfig validates the Redis configuration settings.
func validateRedisConfig(conf *config.Config) error {
	if conf.Redis.Endpoint == "" {
		return errNoRedisEndpoint
	}

	return nil
}

// validateDashboardConfig validates the dashboard configuration settings.
func validateDashboardConfig(conf *config.Config) error {
	if conf.Dashboard.Address == "" {
		return errNoDashboardAddress
	}

	return nil
}

// validateWorkerLockConfig validates that the workers use a lock driver,
// which is shared with the scheduler.
func validateWorkerLockConfig(conf *config.Config) error {
	if conf.Lock.Driver == config.LockDriverMemory {
		return fmt.Errorf("%w: use the %s driver for workers", errProcessLocalLock, config.LockDriverPostgres)
	}

	return nil
}

// validateConfig runs the given validators against the config.
func validateConfig(conf *config.Config, validators ...func(c *config.Config) error) error {
	for _, validator := range validators {
		if err := validator(conf); err != nil {
			return err
		}
	}

	return nil
}

// newDB returns a new [bun.DB] database from the given config.
func newDB(conf *config.Config) (*bun.DB, error) {
	return dbutils.NewFromConfig(conf.Database, conf.Debug)
}

// newMigrator returns a new [migrate.Migrator] from the given config. By
// default the bundled migrations are used, unless an alternate migration
// directory is configured.
func newMigrator(conf *config.Config, db *bun.DB) (*migrate.Migrator, error) {
	m := migrations.Migrations
	migrationDir := conf.Database.MigrationDirectory
	if migrationDir != "" {
		m = migrate.NewMigrations(migrate.WithMigrationsDirectory(migrationDir))
		if err := m.Discover(os.DirFS(migrationDir)); err != nil {
			return nil, err
		}
	}

	return migrate.NewMigrator(db, m), nil
}

// newRedisClientOpt returns a new [asynq.RedisClientOpt] from the given
// config.
func newRedisClientOpt(conf *config.Config) asynq.RedisClientOpt {
	// TODO: Handle authentication, TLS, etc.
	opts := asynq.RedisClientOpt{
		Addr: conf.Redis.Endpoint,
	}

	return opts
}

// newInspector returns a new [asynq.Inspector] from the given config.
func newInspector(conf *config.Config) *asynq.Inspector {
	return asynq.NewInspector(newRedisClientOpt(conf))
}

// newAsynqClient returns a new [asynq.Client] from the given config.
func newAsynqClient(conf *config.Config) *asynq.Client {
	return asynq.NewClient(newRedisClientOpt(conf))
}

// newLockStore returns the [lock.Store] of the configured lock driver. The
// database is only used by the postgres driver.
func newLockStore(conf *config.Config, db *bun.DB) (lock.Store, error) {
	switch conf.Lock.Driver {
	case config.LockDriverPostgres:
		if db == nil {
			return nil, fmt.Errorf("%w: lock driver %s", dbutils.ErrInvalidDSN, conf.Lock.Driver)
		}
		return lock.NewBunStore(db), nil
	case config.LockDriverMemory:
		return lock.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidLockDriver, conf.Lock.Driver)
	}
}

// newLockManager returns a new [lock.Manager] using the configured lock
// driver.
func newLockManager(conf *config.Config, db *bun.DB) (*lock.Manager, error) {
	store, err := newLockStore(conf, db)
	if err != nil {
		return nil, err
	}

	return lock.NewManager(store), nil
}

// newTableWriter returns a new [tablewriter.Table], which renders to the
// given writer with the specified headers.
func newTableWriter(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	items := make([]any, 0, len(headers))
	for _, h := range headers {
		items = append(items, strings.ToUpper(h))
	}
	table.Header(items...)

	return table
}
