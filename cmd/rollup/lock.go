// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/lock"
)

// lockStoreFunc is a function which is called with the configured lock store.
type lockStoreFunc func(ctx *cli.Context, conf *config.Config, store lock.Store) error

// withLockStore opens the database and calls fn with the configured lock
// store.
func withLockStore(ctx *cli.Context, fn lockStoreFunc) error {
	conf := getConfig(ctx)
	db, err := newDB(conf)
	if err != nil {
		return err
	}
	defer db.Close() // nolint: errcheck

	store, err := newLockStore(conf, db)
	if err != nil {
		return err
	}

	return fn(ctx, conf, store)
}

// NewLockCommand returns a new command for interfacing with the scheduler
// leases.
func NewLockCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "lock",
		Usage:   "scheduler lock operations",
		Aliases: []string{"l"},
		Before: func(ctx *cli.Context) error {
			return validateDBConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list leases",
				Aliases: []string{"ls"},
				Action: func(ctx *cli.Context) error {
					return withLockStore(ctx, func(ctx *cli.Context, _ *config.Config, store lock.Store) error {
						leases, err := store.List(ctx.Context)
						if err != nil {
							return err
						}

						if len(leases) == 0 {
							return nil
						}

						headers := []string{
							"NAME",
							"TOKEN",
							"HELD-UNTIL",
							"EXPIRED",
						}
						table := newTableWriter(os.Stdout, headers)
						now := time.Now()
						for _, lease := range leases {
							row := []string{
								lease.Name,
								lease.Token,
								lease.HeldUntil.Format(time.RFC3339),
								fmt.Sprintf("%t", lease.Expired(now)),
							}
							if err := table.Append(row); err != nil {
								return err
							}
						}

						return table.Render()
					})
				},
			},
			{
				Name:    "purge",
				Usage:   "delete leases which expired long ago",
				Aliases: []string{"p"},
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "delete leases expired for longer than this duration",
					},
				},
				Action: func(ctx *cli.Context) error {
					return withLockStore(ctx, func(ctx *cli.Context, conf *config.Config, store lock.Store) error {
						olderThan := conf.Lock.PurgeAfter
						if ctx.IsSet("older-than") {
							olderThan = ctx.Duration("older-than")
						}

						count, err := lock.NewManager(store).Purge(ctx.Context, olderThan)
						if err != nil {
							return err
						}

						fmt.Printf("purged %d lease(s)\n", count)
						return nil
					})
				},
			},
			{
				Name:    "release",
				Usage:   "release a lease held by the given token",
				Aliases: []string{"r"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "lease name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "token",
						Usage:    "holder token",
						Required: true,
					},
				},
				Action: func(ctx *cli.Context) error {
					return withLockStore(ctx, func(ctx *cli.Context, _ *config.Config, store lock.Store) error {
						name := ctx.String("name")
						ok, err := store.Release(ctx.Context, name, ctx.String("token"))
						if err != nil {
							return err
						}

						if !ok {
							fmt.Printf("lease %s is not held by the given token\n", name)
							return nil
						}

						fmt.Printf("released lease %s\n", name)
						return nil
					})
				},
			},
		},
	}

	return cmd
}
