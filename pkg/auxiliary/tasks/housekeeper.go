// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedbackhub/rollup/pkg/clients/db"
	lockclient "github.com/feedbackhub/rollup/pkg/clients/lock"
	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/core/registry"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/jobs/models"
	"github.com/feedbackhub/rollup/pkg/lock"
	"github.com/feedbackhub/rollup/pkg/metrics"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

const (
	// HousekeeperTaskType is the name of the task responsible for cleaning
	// up expired leases and old job run records.
	HousekeeperTaskType = "aux:task:housekeeper"

	// HousekeeperJobName is the name under which scheduled housekeeper
	// runs are reported.
	HousekeeperJobName = "aux:job:housekeeper"
)

// ErrLockHeld is an error, which is returned when the housekeeper lease is
// held elsewhere.
var ErrLockHeld = errors.New("lease held elsewhere")

// ErrLockUnavailable is an error, which is returned when the lock store
// could not be reached.
var ErrLockUnavailable = errors.New("lock store unavailable")

// Housekeeper purges expired leases and old job run records.
type Housekeeper struct {
	locks           *lock.Manager
	runs            jobs.Purger
	clock           quartz.Clock
	lockPurgeAfter  time.Duration
	jobRunRetention time.Duration
}

var _ jobs.Runner = &Housekeeper{}

// HousekeeperOption is a function, which configures the [Housekeeper].
type HousekeeperOption func(h *Housekeeper)

// WithClock is a [HousekeeperOption], which configures the [Housekeeper] to
// use the given clock.
func WithClock(clock quartz.Clock) HousekeeperOption {
	opt := func(h *Housekeeper) {
		h.clock = clock
	}

	return opt
}

// WithLockPurgeAfter is a [HousekeeperOption], which configures how long
// leases are kept after they expired.
func WithLockPurgeAfter(d time.Duration) HousekeeperOption {
	opt := func(h *Housekeeper) {
		if d > 0 {
			h.lockPurgeAfter = d
		}
	}

	return opt
}

// WithJobRunRetention is a [HousekeeperOption], which configures how long
// job run records are kept.
func WithJobRunRetention(d time.Duration) HousekeeperOption {
	opt := func(h *Housekeeper) {
		if d > 0 {
			h.jobRunRetention = d
		}
	}

	return opt
}

// NewHousekeeper creates a new [Housekeeper].
func NewHousekeeper(locks *lock.Manager, runs jobs.Purger, opts ...HousekeeperOption) *Housekeeper {
	h := &Housekeeper{
		locks:           locks,
		runs:            runs,
		clock:           quartz.NewReal(),
		lockPurgeAfter:  config.DefaultLockPurgeAfter,
		jobRunRetention: config.DefaultJobRunRetention,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run implements the [jobs.Runner] interface. A failure to purge one kind
// of record does not prevent purging the other.
func (h *Housekeeper) Run(ctx context.Context) (jobs.Result, error) {
	logger := asynqutils.GetLogger(ctx)
	allErrs := make([]error, 0)
	var total int64

	leases, err := h.locks.Purge(ctx, h.lockPurgeAfter)
	if err != nil {
		logger.Error("failed to purge expired leases", "reason", err)
		allErrs = append(allErrs, fmt.Errorf("purge leases: %w", err))
	} else {
		logger.Info("purged expired leases", "count", leases)
		reportDeleted("scheduler_lock", leases)
		total += leases
	}

	runs, err := h.runs.Purge(ctx, h.clock.Now().Add(-h.jobRunRetention))
	if err != nil {
		logger.Error("failed to delete old job runs", "reason", err)
		allErrs = append(allErrs, fmt.Errorf("purge job runs: %w", err))
	} else {
		logger.Info("deleted old job runs", "count", runs)
		reportDeleted("job_runs", runs)
		total += runs
	}

	return jobs.Processed(total), errors.Join(allErrs...)
}

// HousekeeperPayload represents the payload of the housekeeper task.
type HousekeeperPayload struct {
	// LockPurgeAfter specifies how long leases are kept after they
	// expired.
	LockPurgeAfter time.Duration `yaml:"lock_purge_after" json:"lock_purge_after"`

	// JobRunRetention specifies the max duration for which job run
	// records are kept.
	JobRunRetention time.Duration `yaml:"job_run_retention" json:"job_run_retention"`

	// TTL specifies the lease TTL.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// NewHousekeeperTask creates a new [asynq.Task] for the housekeeper.
func NewHousekeeperTask(payload HousekeeperPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(HousekeeperTaskType, data), nil
}

// HandleHousekeeperTask performs housekeeping activities, such as deleting
// expired leases and old job run records. It holds the same lease as the
// scheduled housekeeper.
func HandleHousekeeperTask(ctx context.Context, task *asynq.Task) error {
	var payload HousekeeperPayload
	if len(task.Payload()) > 0 {
		if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
			return asynqutils.SkipRetry(err)
		}
	}

	if payload.TTL <= 0 {
		payload.TTL = config.DefaultHousekeeperLockTTL
	}

	logger := asynqutils.GetLogger(ctx)
	recorder := jobs.NewBunRecorder(db.DB)
	housekeeper := NewHousekeeper(
		lockclient.Manager,
		recorder,
		WithLockPurgeAfter(payload.LockPurgeAfter),
		WithJobRunRetention(payload.JobRunRetention),
	)

	startedAt := time.Now()
	var result jobs.Result
	status, err := lockclient.Manager.WithLock(ctx, jobs.HousekeeperLockName, payload.TTL, func(ctx context.Context) error {
		var err error
		result, err = housekeeper.Run(ctx)

		return err
	})

	switch status {
	case lock.StatusHeld:
		return fmt.Errorf("%w: %s", ErrLockHeld, jobs.HousekeeperLockName)
	case lock.StatusStoreError:
		return fmt.Errorf("%w: %s", ErrLockUnavailable, jobs.HousekeeperLockName)
	}

	run := &models.JobRun{
		JobName:     HousekeeperTaskType,
		LockName:    jobs.HousekeeperLockName,
		Status:      string(result.Status),
		Count:       result.Count,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
	}
	if err != nil {
		run.Status = string(jobs.StatusFailed)
		run.Reason = err.Error()
	}
	if recErr := recorder.Record(ctx, run); recErr != nil {
		logger.Warn("failed to record job run", "reason", recErr)
	}

	return err
}

// reportDeleted reports the number of records deleted from the given table.
func reportDeleted(table string, count int64) {
	metric := prometheus.MustNewConstMetric(
		hkDeletedRecordsDesc,
		prometheus.GaugeValue,
		float64(count),
		table,
	)
	key := metrics.Key(HousekeeperTaskType, table)
	metrics.DefaultCollector.AddMetric(key, metric)
}

func init() {
	registry.TaskRegistry.MustRegister(HousekeeperTaskType, asynq.HandlerFunc(HandleHousekeeperTask))
}
