// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"
)

// migratorFunc is a function which is called with a ready to use migrator.
type migratorFunc func(ctx context.Context, m *migrate.Migrator) error

// withMigrator opens the configured database and calls fn with a migrator
// for it. The database is closed once fn returns.
func withMigrator(ctx *cli.Context, fn migratorFunc) error {
	conf := getConfig(ctx)
	db, err := newDB(conf)
	if err != nil {
		return err
	}
	defer db.Close() // nolint: errcheck

	migrator, err := newMigrator(conf, db)
	if err != nil {
		return err
	}

	return fn(ctx.Context, migrator)
}

// locked wraps fn so that it runs while holding the migration lock.
func locked(fn migratorFunc) migratorFunc {
	return func(ctx context.Context, m *migrate.Migrator) error {
		if err := m.Lock(ctx); err != nil {
			return err
		}
		defer func() {
			if err := m.Unlock(ctx); err != nil {
				slog.Error("failed to unlock migrations", "reason", err)
			}
		}()

		return fn(ctx, m)
	}
}

// NewDatabaseCommand returns a new command for interfacing with the database.
func NewDatabaseCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "database",
		Usage:   "database operations",
		Aliases: []string{"db"},
		Before: func(ctx *cli.Context) error {
			return validateDBConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "init",
				Usage:   "initialize migration tables",
				Aliases: []string{"i"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, func(ctx context.Context, m *migrate.Migrator) error {
						return m.Init(ctx)
					})
				},
			},
			{
				Name:    "migrate",
				Usage:   "apply pending migrations",
				Aliases: []string{"m"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, locked(func(ctx context.Context, m *migrate.Migrator) error {
						group, err := m.Migrate(ctx)
						if err != nil {
							return err
						}

						if group.IsZero() {
							fmt.Println("database is up to date")
							return nil
						}

						fmt.Printf("database migrated to %s\n", group)
						return nil
					}))
				},
			},
			{
				Name:    "rollback",
				Usage:   "rollback last migration group",
				Aliases: []string{"r"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, locked(func(ctx context.Context, m *migrate.Migrator) error {
						group, err := m.Rollback(ctx)
						if err != nil {
							return err
						}

						if group.IsZero() {
							fmt.Println("there are no migration groups for rollback")
							return nil
						}

						fmt.Printf("rolled back %s\n", group)
						return nil
					}))
				},
			},
			{
				Name:    "lock",
				Usage:   "lock migrations",
				Aliases: []string{"l"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, func(ctx context.Context, m *migrate.Migrator) error {
						return m.Lock(ctx)
					})
				},
			},
			{
				Name:    "unlock",
				Usage:   "unlock migrations",
				Aliases: []string{"u"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, func(ctx context.Context, m *migrate.Migrator) error {
						return m.Unlock(ctx)
					})
				},
			},
			{
				Name:    "create",
				Usage:   "create a new migration",
				Aliases: []string{"c"},
				Action: func(ctx *cli.Context) error {
					name := strings.Join(ctx.Args().Slice(), "_")
					if name == "" {
						return errors.New("must specify migration description")
					}

					return withMigrator(ctx, func(ctx context.Context, m *migrate.Migrator) error {
						files, err := m.CreateTxSQLMigrations(ctx, name)
						if err != nil {
							return err
						}

						for _, item := range files {
							fmt.Println(item.Path)
						}

						return nil
					})
				},
			},
			{
				Name:    "status",
				Usage:   "display migration status",
				Aliases: []string{"s"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, func(ctx context.Context, m *migrate.Migrator) error {
						ms, err := m.MigrationsWithStatus(ctx)
						if err != nil {
							return err
						}

						pending := ms.Unapplied()
						fmt.Printf("pending migration(s): %d\n", len(pending))
						fmt.Printf("database version: %s\n", ms.LastGroup())

						if len(pending) == 0 {
							fmt.Println("database is up-to-date")
						} else {
							fmt.Println("database is out-of-date")
						}

						return nil
					})
				},
			},
			{
				Name:    "applied",
				Usage:   "display the list of applied migrations",
				Aliases: []string{"a"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, func(ctx context.Context, m *migrate.Migrator) error {
						ms, err := m.MigrationsWithStatus(ctx)
						if err != nil {
							return err
						}

						return renderMigrations(ms.Applied())
					})
				},
			},
			{
				Name:    "pending",
				Usage:   "display the list of pending migrations",
				Aliases: []string{"p"},
				Action: func(ctx *cli.Context) error {
					return withMigrator(ctx, func(ctx context.Context, m *migrate.Migrator) error {
						ms, err := m.MigrationsWithStatus(ctx)
						if err != nil {
							return err
						}

						return renderMigrations(ms.Unapplied())
					})
				},
			},
		},
	}

	return cmd
}

// renderMigrations prints the given migrations as a table to stdout.
func renderMigrations(items migrate.MigrationSlice) error {
	if len(items) == 0 {
		return nil
	}

	table, err := tabulateMigrations(items)
	if err != nil {
		return err
	}

	return table.Render()
}

// tabulateMigrations adds the given migration items to a table and returns it.
// The returned table can be further customized, if needed, and rendered.
func tabulateMigrations(items migrate.MigrationSlice) (*tablewriter.Table, error) {
	headers := []string{
		"ID",
		"NAME",
		"COMMENT",
		"GROUP-ID",
		"MIGRATED-AT",
	}
	table := newTableWriter(os.Stdout, headers)

	for _, item := range items {
		id := na
		groupID := na
		migratedAt := na

		if item.ID > 0 {
			id = strconv.FormatInt(item.ID, 10)
		}

		if item.GroupID > 0 {
			groupID = strconv.FormatInt(item.GroupID, 10)
		}

		if !item.MigratedAt.IsZero() {
			migratedAt = item.MigratedAt.String()
		}

		row := []string{
			id,
			item.Name,
			item.Comment,
			groupID,
			migratedAt,
		}
		if err := table.Append(row); err != nil {
			return nil, err
		}
	}

	return table, nil
}
