// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package tasks provides the worker tasks for statistics aggregation.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feedbackhub/rollup/pkg/clients/db"
	lockclient "github.com/feedbackhub/rollup/pkg/clients/lock"
	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/core/registry"
	feedbackstore "github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/lock"
	"github.com/feedbackhub/rollup/pkg/stats/aggregate"
	statsstore "github.com/feedbackhub/rollup/pkg/stats/store"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

const (
	// AggregateTaskType is the name of the task, which aggregates the
	// statistics of a single project on demand, e.g. for backfills.
	AggregateTaskType = "stats:task:aggregate"
)

// ErrNoProjectID is an error, which is returned when the aggregation task
// was called without a project id.
var ErrNoProjectID = errors.New("no project id specified")

// ErrLockHeld is an error, which is returned when the lease of the project
// is held by a scheduled run or another task. The task is retried.
var ErrLockHeld = errors.New("lease held elsewhere")

// ErrLockUnavailable is an error, which is returned when the lock store
// could not be reached.
var ErrLockUnavailable = errors.New("lock store unavailable")

// AggregatePayload represents the payload of the aggregation task.
type AggregatePayload struct {
	// ProjectID specifies the project to aggregate.
	ProjectID uint64 `yaml:"project_id" json:"project_id"`

	// Days specifies the number of past local days to aggregate.
	Days int `yaml:"days" json:"days"`

	// TTL specifies the lease TTL.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// NewAggregateTask creates a new [asynq.Task] for aggregating the given
// project.
func NewAggregateTask(payload AggregatePayload) (*asynq.Task, error) {
	if payload.ProjectID == 0 {
		return nil, ErrNoProjectID
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(AggregateTaskType, data), nil
}

// HandleAggregateTask aggregates the statistics of the project specified in
// the payload while holding the project lease.
func HandleAggregateTask(ctx context.Context, task *asynq.Task) error {
	var payload AggregatePayload
	if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
		return asynqutils.SkipRetry(err)
	}

	if payload.ProjectID == 0 {
		return asynqutils.SkipRetry(ErrNoProjectID)
	}

	if payload.Days <= 0 {
		payload.Days = config.DefaultDaysToCreate
	}

	if payload.TTL <= 0 {
		payload.TTL = config.DefaultAggregationLockTTL
	}

	logger := asynqutils.GetLogger(ctx)
	feedback := feedbackstore.NewBunStore(db.DB)
	job := aggregate.New(feedback, feedback, statsstore.NewBunStore(db.DB))
	lockName := jobs.AggregateLockName(payload.ProjectID)

	var result jobs.Result
	status, err := lockclient.Manager.WithLock(ctx, lockName, payload.TTL, func(ctx context.Context) error {
		var err error
		result, err = job.RunDays(ctx, payload.ProjectID, payload.Days)

		return err
	})

	switch status {
	case lock.StatusHeld:
		return fmt.Errorf("%w: %s", ErrLockHeld, lockName)
	case lock.StatusStoreError:
		return fmt.Errorf("%w: %s", ErrLockUnavailable, lockName)
	}

	if err != nil {
		// Buckets of the successful channels have been written already,
		// and a retry would add them a second time.
		if result.Count > 0 {
			logger.Error("aggregation completed with errors", "project_id", payload.ProjectID, "buckets", result.Count)

			return asynqutils.SkipRetry(err)
		}

		return err
	}

	logger.Info(
		"aggregation task completed",
		"project_id", payload.ProjectID,
		"days", payload.Days,
		"status", result.Status,
		"reason", result.Reason,
		"buckets", result.Count,
	)

	return nil
}

func init() {
	registry.TaskRegistry.MustRegister(AggregateTaskType, asynq.HandlerFunc(HandleAggregateTask))
}
