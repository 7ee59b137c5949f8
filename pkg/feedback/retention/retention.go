// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package retention purges feedback, which is older than the retention
// period of the tenant.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/metrics"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
	"github.com/feedbackhub/rollup/pkg/utils/tz"
)

// JobName is the name under which retention runs are reported.
const JobName = "feedback:job:retention"

// Job deletes the feedback of all channels, which was created before the
// retention cutoff.
type Job struct {
	policies  store.RetentionConfig
	directory store.Directory
	events    store.EventStore
	clock     quartz.Clock
	pageSize  int
}

var _ jobs.Runner = &Job{}

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

// WithPageSize is an [Option], which configures the max number of feedback
// ids fetched and deleted at once.
func WithPageSize(size int) Option {
	opt := func(j *Job) {
		if size > 0 {
			j.pageSize = size
		}
	}

	return opt
}

// New creates a new retention [Job].
func New(policies store.RetentionConfig, directory store.Directory, events store.EventStore, opts ...Option) *Job {
	j := &Job{
		policies:  policies,
		directory: directory,
		events:    events,
		clock:     quartz.NewReal(),
		pageSize:  config.DefaultRetentionPageSize,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Cutoff returns the retention cutoff for the given period. Feedback
// created strictly before the cutoff is deleted.
func Cutoff(now time.Time, periodDays int) time.Time {
	return tz.StartOfDay(now).AddDate(0, 0, -periodDays)
}

// Run implements the [jobs.Runner] interface.
func (j *Job) Run(ctx context.Context) (jobs.Result, error) {
	logger := asynqutils.GetLogger(ctx)
	policy, err := j.policies.GetRetentionPolicy(ctx)
	switch {
	case errors.Is(err, store.ErrNoTenant):
		logger.Info("tenant not provisioned, skipping retention")
		return jobs.Skipped("no tenant"), nil
	case err != nil:
		return jobs.Result{}, err
	}

	if !policy.Enabled {
		logger.Info("feedback retention disabled, skipping")
		return jobs.Skipped("retention disabled"), nil
	}

	if policy.PeriodDays <= 0 {
		logger.Info("invalid retention period, skipping", "period_days", policy.PeriodDays)
		return jobs.Skipped("invalid retention period"), nil
	}

	projects, err := j.directory.ListActiveProjects(ctx)
	if err != nil {
		return jobs.Result{}, err
	}

	if len(projects) == 0 {
		logger.Info("no projects found, skipping retention")
		return jobs.Skipped("no projects"), nil
	}

	cutoff := Cutoff(j.clock.Now(), policy.PeriodDays)
	logger = logger.With("cutoff", cutoff)

	var deleted int64
	failed := 0
	allErrs := make([]error, 0)
	for _, project := range projects {
		channels, err := j.directory.ListChannels(ctx, project.ID)
		if err != nil {
			logger.Error("failed to list channels", "project_id", project.ID, "reason", err)
			allErrs = append(allErrs, fmt.Errorf("project %d: %w", project.ID, err))

			continue
		}

		for _, channelID := range channels {
			count, err := j.purgeChannel(ctx, channelID, cutoff)
			deleted += count
			if err != nil {
				logger.Error(
					"failed to purge channel",
					"project_id", project.ID,
					"channel_id", channelID,
					"deleted", count,
					"reason", err,
				)
				failed++
				allErrs = append(allErrs, fmt.Errorf("channel %d: %w", channelID, err))

				continue
			}

			if count > 0 {
				logger.Info("deleted aged feedback", "project_id", project.ID, "channel_id", channelID, "count", count)
			}
		}
	}

	metrics.DefaultCollector.AddMetric(
		metrics.Key(JobName, "deleted"),
		prometheus.MustNewConstMetric(deletedFeedbackDesc, prometheus.GaugeValue, float64(deleted)),
	)
	metrics.DefaultCollector.AddMetric(
		metrics.Key(JobName, "errors"),
		prometheus.MustNewConstMetric(channelErrorsDesc, prometheus.GaugeValue, float64(failed)),
	)

	logger.Info("feedback retention completed", "projects", len(projects), "deleted", deleted, "failed_channels", failed)

	return jobs.Processed(deleted), errors.Join(allErrs...)
}

// purgeChannel deletes the feedback of the channel created before cutoff,
// one page at a time. It returns the number of deleted records, including
// the pages deleted before a failure.
func (j *Job) purgeChannel(ctx context.Context, channelID uint64, cutoff time.Time) (int64, error) {
	var total int64
	for {
		ids, err := j.events.ListEventsOlderThan(ctx, channelID, cutoff, j.pageSize)
		if err != nil {
			return total, fmt.Errorf("list feedback: %w", err)
		}

		if len(ids) == 0 {
			return total, nil
		}

		count, err := j.events.DeleteEvents(ctx, channelID, ids)
		if err != nil {
			return total, fmt.Errorf("delete feedback: %w", err)
		}
		total += count

		// A short page is the last one. Nothing deleted means the same
		// page would be returned again.
		if len(ids) < j.pageSize || count == 0 {
			return total, nil
		}
	}
}
