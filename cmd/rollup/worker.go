// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	asynqclient "github.com/feedbackhub/rollup/pkg/clients/asynq"
	dbclient "github.com/feedbackhub/rollup/pkg/clients/db"
	lockclient "github.com/feedbackhub/rollup/pkg/clients/lock"
	"github.com/feedbackhub/rollup/pkg/core/registry"
	"github.com/feedbackhub/rollup/pkg/metrics"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
	"github.com/feedbackhub/rollup/pkg/utils/asynq/worker"
)

// NewWorkerCommand returns a new command for interfacing with the workers.
func NewWorkerCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "worker",
		Usage:   "worker operations",
		Aliases: []string{"w"},
		Before: func(ctx *cli.Context) error {
			return validateConfig(getConfig(ctx), validateDBConfig, validateRedisConfig, validateWorkerLockConfig)
		},
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "start the workers",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "concurrency",
						Usage:   "number of concurrent workers to start",
						EnvVars: []string{"CONCURRENCY_LEVEL"},
					},
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					if ctx.IsSet("concurrency") {
						conf.Worker.Concurrency = ctx.Int("concurrency")
					}

					logger := slog.Default()
					logLevel := asynq.InfoLevel
					if conf.Debug {
						logLevel = asynq.DebugLevel
					}

					w := worker.NewFromConfig(
						newRedisClientOpt(conf),
						conf.Worker,
						worker.WithLogLevel(logLevel),
						worker.WithBaseContext(func() context.Context { return ctx.Context }),
						worker.WithErrorHandler(asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
							logger.Error("task failed", "task_name", task.Type(), "reason", err)
						})),
					)
					w.UseMiddlewares(
						asynqutils.NewLoggerMiddleware(logger),
						asynqutils.NewMeasuringMiddleware(),
						asynqutils.NewMetricsMiddleware(),
					)

					// Initialize clients used by the task handlers
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck
					dbclient.SetDB(db)

					locks, err := newLockManager(conf, db)
					if err != nil {
						return err
					}
					lockclient.SetManager(locks)

					client := newAsynqClient(conf)
					defer client.Close() // nolint: errcheck
					asynqclient.SetClient(client)

					inspector := newInspector(conf)
					defer inspector.Close() // nolint: errcheck
					asynqclient.SetInspector(inspector)

					if conf.Metrics.Address != "" {
						srv := metrics.NewServer(conf.Metrics.Address, conf.Metrics.Path)
						go serveMetrics(srv)
						defer shutdownServer(srv)
					}

					w.HandlersFromRegistry(logger, registry.TaskRegistry)

					return w.Run()
				},
			},
		},
	}

	return cmd
}
