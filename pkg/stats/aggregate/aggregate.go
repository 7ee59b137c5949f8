// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package aggregate rolls the raw feedback of a project up into day-level
// statistics buckets.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/metrics"
	statsstore "github.com/feedbackhub/rollup/pkg/stats/store"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
	"github.com/feedbackhub/rollup/pkg/utils/tz"
)

// JobName is the name under which aggregation runs are reported.
const JobName = "stats:job:aggregate"

// ErrInvalidDays is an error, which is returned when a run is requested for
// a non-positive number of days.
var ErrInvalidDays = errors.New("invalid number of days")

// Job aggregates the feedback of a project for the most recent local days.
type Job struct {
	directory    store.Directory
	events       store.EventStore
	stats        statsstore.Store
	clock        quartz.Clock
	daysToCreate int
}

// Option is a function, which configures the [Job].
type Option func(j *Job)

// WithClock is an [Option], which configures the [Job] to use the given
// clock.
func WithClock(clock quartz.Clock) Option {
	opt := func(j *Job) {
		j.clock = clock
	}

	return opt
}

// WithDaysToCreate is an [Option], which configures the number of past local
// days covered by each run.
func WithDaysToCreate(days int) Option {
	opt := func(j *Job) {
		j.daysToCreate = days
	}

	return opt
}

// New creates a new aggregation [Job].
func New(directory store.Directory, events store.EventStore, stats statsstore.Store, opts ...Option) *Job {
	j := &Job{
		directory:    directory,
		events:       events,
		stats:        stats,
		clock:        quartz.NewReal(),
		daysToCreate: config.DefaultDaysToCreate,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Window is the UTC time range of one local calendar day of a project.
type Window struct {
	// Date is the local calendar day, as midnight UTC of that date.
	Date time.Time

	// From is the inclusive start of the day in UTC.
	From time.Time

	// To is the exclusive end of the day in UTC.
	To time.Time
}

// Windows returns the windows of the local days, which precede the local
// day of now in the timezone with the given offset. The most recent day
// comes first.
func Windows(now time.Time, offset time.Duration, days int) []Window {
	today := tz.StartOfDay(now.Add(offset))
	result := make([]Window, 0, days)
	for day := 1; day <= days; day++ {
		date := today.AddDate(0, 0, -day)
		from := date.Add(-offset)
		w := Window{
			Date: date,
			From: from,
			To:   from.Add(24 * time.Hour),
		}
		result = append(result, w)
	}

	return result
}

// Runner returns a [jobs.Runner], which aggregates the given project.
func (j *Job) Runner(projectID uint64) jobs.Runner {
	return jobs.RunnerFunc(func(ctx context.Context) (jobs.Result, error) {
		return j.Run(ctx, projectID)
	})
}

// Run aggregates the feedback of the given project for the configured number
// of days.
func (j *Job) Run(ctx context.Context, projectID uint64) (jobs.Result, error) {
	return j.RunDays(ctx, projectID, j.daysToCreate)
}

// RunDays aggregates the feedback of the given project for the given number
// of past local days.
//
// Counts are added to any existing bucket, so running the same days twice
// doubles the stored counts. Callers are expected to guard runs with the
// project lease.
func (j *Job) RunDays(ctx context.Context, projectID uint64, days int) (jobs.Result, error) {
	if days <= 0 {
		return jobs.Result{}, fmt.Errorf("%w: %d", ErrInvalidDays, days)
	}

	logger := asynqutils.GetLogger(ctx).With("project_id", projectID)
	project, err := j.directory.GetProject(ctx, projectID)
	switch {
	case errors.Is(err, store.ErrProjectNotFound):
		logger.Info("project not found, skipping aggregation")
		return jobs.Skipped("project not found"), nil
	case err != nil:
		return jobs.Result{}, err
	}

	if project.TimezoneOffset == "" {
		logger.Info("project has no timezone offset, skipping aggregation")
		return jobs.Skipped("missing timezone offset"), nil
	}

	offset, err := tz.ParseOffset(project.TimezoneOffset)
	if err != nil {
		logger.Info("invalid timezone offset, skipping aggregation", "reason", err)
		return jobs.Skipped("invalid timezone offset"), nil
	}

	channels, err := j.directory.ListChannels(ctx, projectID)
	if err != nil {
		return jobs.Result{}, err
	}

	var written int64
	failed := make(map[uint64]bool)
	allErrs := make([]error, 0)
	for _, window := range Windows(j.clock.Now(), offset, days) {
		for _, channelID := range channels {
			ok, err := j.aggregateChannel(ctx, channelID, window)
			if err != nil {
				logger.Error(
					"failed to aggregate channel",
					"channel_id", channelID,
					"date", window.Date.Format(time.DateOnly),
					"reason", err,
				)
				failed[channelID] = true
				allErrs = append(allErrs, fmt.Errorf("channel %d: %w", channelID, err))

				continue
			}
			if ok {
				written++
			}
		}
	}

	projectLabel := strconv.FormatUint(projectID, 10)
	key := metrics.Key(JobName, projectLabel)
	metrics.DefaultCollector.AddMetric(
		metrics.Key(key, "written"),
		prometheus.MustNewConstMetric(bucketsWrittenDesc, prometheus.GaugeValue, float64(written), projectLabel),
	)
	metrics.DefaultCollector.AddMetric(
		metrics.Key(key, "errors"),
		prometheus.MustNewConstMetric(channelErrorsDesc, prometheus.GaugeValue, float64(len(failed)), projectLabel),
	)

	logger.Info(
		"aggregated project statistics",
		"channels", len(channels),
		"days", days,
		"buckets", written,
		"failed_channels", len(failed),
	)

	return jobs.Processed(written), errors.Join(allErrs...)
}

// aggregateChannel counts the events of the channel in the window and adds
// them to the bucket of the window date. It returns false, if there was
// nothing to write.
func (j *Job) aggregateChannel(ctx context.Context, channelID uint64, window Window) (bool, error) {
	count, err := j.events.CountEvents(ctx, channelID, window.From, window.To)
	if err != nil {
		return false, fmt.Errorf("count events: %w", err)
	}

	if count == 0 {
		return false, nil
	}

	if err := j.stats.UpsertAdd(ctx, channelID, window.Date, count); err != nil {
		return false, fmt.Errorf("upsert bucket: %w", err)
	}

	return true, nil
}
