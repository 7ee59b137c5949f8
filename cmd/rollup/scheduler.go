// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	auxtasks "github.com/feedbackhub/rollup/pkg/auxiliary/tasks"
	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/feedback/retention"
	feedbackstore "github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/metrics"
	"github.com/feedbackhub/rollup/pkg/scheduler"
	"github.com/feedbackhub/rollup/pkg/stats/aggregate"
	statsstore "github.com/feedbackhub/rollup/pkg/stats/store"
	"github.com/feedbackhub/rollup/pkg/utils/tz"
)

const (
	// retentionKey is the registration key of the retention job.
	retentionKey = "retention"

	// housekeeperKey is the registration key of the housekeeper job.
	housekeeperKey = "housekeeper"
)

// shutdownTimeout is the max time to wait for the metrics server to shut down.
const shutdownTimeout = 10 * time.Second

// NewSchedulerCommand returns a new command for interfacing with the scheduler.
func NewSchedulerCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "scheduler",
		Usage:   "scheduler operations",
		Aliases: []string{"s"},
		Before: func(ctx *cli.Context) error {
			return validateDBConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "start",
				Usage:   "start the scheduler",
				Aliases: []string{"s"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					locks, err := newLockManager(conf, db)
					if err != nil {
						return err
					}

					feedback := feedbackstore.NewBunStore(db)
					stats := statsstore.NewBunStore(db)
					aggregateJob := aggregate.New(
						feedback,
						feedback,
						stats,
						aggregate.WithDaysToCreate(conf.Aggregation.DaysToCreate),
					)
					retentionJob := retention.New(
						feedback,
						feedback,
						feedback,
						retention.WithPageSize(conf.Retention.PageSize),
					)

					recorder := jobs.NewBunRecorder(db)
					housekeeper := auxtasks.NewHousekeeper(
						locks,
						recorder,
						auxtasks.WithLockPurgeAfter(conf.Lock.PurgeAfter),
						auxtasks.WithJobRunRetention(conf.Housekeeper.JobRunRetention),
					)

					s := scheduler.New(
						locks,
						scheduler.WithRecorder(recorder),
						scheduler.WithLogger(slog.Default()),
						scheduler.WithEnabled(conf.SchedulingEnabled()),
					)
					defer s.Stop()

					if !s.Enabled() {
						slog.Warn("scheduling is disabled", "environment", conf.Environment)
					}

					if err := registerStaticJobs(s, staticJobs(conf, retentionJob, housekeeper)); err != nil {
						return err
					}

					runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					if conf.Metrics.Address != "" {
						srv := metrics.NewServer(conf.Metrics.Address, conf.Metrics.Path)
						go serveMetrics(srv)
						defer shutdownServer(srv)
					}

					sync := scheduler.NewProjectSync(
						s,
						feedback,
						scheduler.AggregateJob(aggregate.JobName, conf.Lock.AggregationTTL, aggregateJob.Runner),
					)
					slog.Info(
						"scheduler started",
						"sync_interval", conf.Scheduler.SyncInterval,
						"lock_driver", conf.Lock.Driver,
					)

					return sync.Run(runCtx, conf.Scheduler.SyncInterval)
				},
			},
			{
				Name:    "plan",
				Usage:   "display the daily triggers of the scheduled jobs",
				Aliases: []string{"p"},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					projects, err := feedbackstore.NewBunStore(db).ListActiveProjects(ctx.Context)
					if err != nil {
						return err
					}

					headers := []string{
						"KEY",
						"JOB",
						"OFFSET",
						"TRIGGER",
						"NEXT",
						"LOCK",
					}
					table := newTableWriter(os.Stdout, headers)

					now := time.Now()
					for _, job := range staticJobs(conf, nil, nil) {
						row := []string{
							job.Key,
							job.Name,
							na,
							job.Trigger.String(),
							job.Trigger.Next(now).Format(time.RFC3339),
							job.LockName,
						}
						if err := table.Append(row); err != nil {
							return err
						}
					}

					for _, project := range projects {
						row := []string{
							scheduler.AggregateKey(project.ID),
							aggregate.JobName,
							project.TimezoneOffset,
							na,
							na,
							jobs.AggregateLockName(project.ID),
						}

						offset, err := tz.ParseOffset(project.TimezoneOffset)
						if err == nil {
							trigger := scheduler.DailyTrigger(offset)
							row[3] = trigger.String()
							row[4] = trigger.Next(now).Format(time.RFC3339)
						}
						if project.TimezoneOffset == "" {
							row[2] = na
						}

						if err := table.Append(row); err != nil {
							return err
						}
					}

					fmt.Printf("scheduling enabled: %s\n", strconv.FormatBool(conf.SchedulingEnabled()))
					return table.Render()
				},
			},
		},
	}

	return cmd
}

// staticJobs returns the tenant-wide jobs, which do not depend on the
// project directory. The housekeeper is left out when it is disabled.
func staticJobs(conf *config.Config, retentionRunner, housekeeperRunner jobs.Runner) []scheduler.Job {
	items := []scheduler.Job{
		{
			Key:      retentionKey,
			Name:     retention.JobName,
			Trigger:  retentionTrigger(conf),
			LockName: jobs.RetentionLockName,
			TTL:      conf.Lock.RetentionTTL,
			Runner:   retentionRunner,
		},
	}

	if conf.HousekeeperEnabled() {
		job := scheduler.Job{
			Key:      housekeeperKey,
			Name:     auxtasks.HousekeeperJobName,
			Trigger:  housekeeperTrigger(conf),
			LockName: jobs.HousekeeperLockName,
			TTL:      conf.Lock.HousekeeperTTL,
			Runner:   housekeeperRunner,
		}
		items = append(items, job)
	}

	return items
}

// registerStaticJobs registers the given jobs with the scheduler.
func registerStaticJobs(s *scheduler.Scheduler, items []scheduler.Job) error {
	for _, job := range items {
		if err := s.Register(job); err != nil {
			return fmt.Errorf("register %s: %w", job.Key, err)
		}
	}

	return nil
}

// retentionTrigger returns the configured trigger of the retention job.
func retentionTrigger(conf *config.Config) scheduler.Trigger {
	return scheduler.Trigger{
		Hour:   conf.Scheduler.RetentionHour,
		Minute: conf.Scheduler.RetentionMinute,
	}
}

// housekeeperTrigger returns the configured trigger of the housekeeper job.
func housekeeperTrigger(conf *config.Config) scheduler.Trigger {
	return scheduler.Trigger{
		Hour:   conf.Housekeeper.Hour,
		Minute: conf.Housekeeper.Minute,
	}
}

// serveMetrics serves the metrics until the server is shut down.
func serveMetrics(srv *http.Server) {
	slog.Info("starting metrics server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server failed", "reason", err)
	}
}

// shutdownServer gracefully shuts down the given server.
func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "address", srv.Addr, "reason", err)
	}
}
