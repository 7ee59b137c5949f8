// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package tasks provides the worker tasks for feedback retention.
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
	"github.com/feedbackhub/rollup/pkg/feedback/retention"
	"github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/lock"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

const (
	// RetentionTaskType is the name of the task, which runs the feedback
	// retention on demand.
	RetentionTaskType = "feedback:task:retention"
)

// ErrLockHeld is an error, which is returned when the retention lease is
// held elsewhere.
var ErrLockHeld = errors.New("lease held elsewhere")

// ErrLockUnavailable is an error, which is returned when the lock store
// could not be reached.
var ErrLockUnavailable = errors.New("lock store unavailable")

// RetentionPayload represents the payload of the retention task.
type RetentionPayload struct {
	// PageSize specifies the max number of feedback ids deleted at once.
	PageSize int `yaml:"page_size" json:"page_size"`

	// TTL specifies the lease TTL.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// NewRetentionTask creates a new [asynq.Task] for running the retention.
func NewRetentionTask(payload RetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(RetentionTaskType, data), nil
}

// HandleRetentionTask deletes aged feedback while holding the retention
// lease.
func HandleRetentionTask(ctx context.Context, task *asynq.Task) error {
	var payload RetentionPayload
	if len(task.Payload()) > 0 {
		if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
			return asynqutils.SkipRetry(err)
		}
	}

	if payload.TTL <= 0 {
		payload.TTL = config.DefaultRetentionLockTTL
	}

	logger := asynqutils.GetLogger(ctx)
	s := store.NewBunStore(db.DB)
	job := retention.New(s, s, s, retention.WithPageSize(payload.PageSize))

	var result jobs.Result
	status, err := lockclient.Manager.WithLock(ctx, jobs.RetentionLockName, payload.TTL, func(ctx context.Context) error {
		var err error
		result, err = job.Run(ctx)

		return err
	})

	switch status {
	case lock.StatusHeld:
		return fmt.Errorf("%w: %s", ErrLockHeld, jobs.RetentionLockName)
	case lock.StatusStoreError:
		return fmt.Errorf("%w: %s", ErrLockUnavailable, jobs.RetentionLockName)
	}

	if err != nil {
		return err
	}

	logger.Info(
		"retention task completed",
		"status", result.Status,
		"reason", result.Reason,
		"deleted", result.Count,
	)

	return nil
}

func init() {
	registry.TaskRegistry.MustRegister(RetentionTaskType, asynq.HandlerFunc(HandleRetentionTask))
}
