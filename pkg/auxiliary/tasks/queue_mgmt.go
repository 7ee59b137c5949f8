// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"

	asynqclient "github.com/feedbackhub/rollup/pkg/clients/asynq"
	"github.com/feedbackhub/rollup/pkg/core/registry"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

// ErrNoQueue is an error, which is returned when a queue management task is
// called without specifying a queue.
var ErrNoQueue = errors.New("queue name is empty")

const (
	// DeleteArchivedTaskType is the name of the task responsible for deleting
	// archived tasks from a task queue
	DeleteArchivedTaskType = "aux:task:delete-archived-tasks"
	// DeleteCompletedTaskType is the name of the task responsible for deleting
	// completed tasks from a task queue
	DeleteCompletedTaskType = "aux:task:delete-completed-tasks"
)

// DeleteQueuePayload represents the payload of a task management task.
type DeleteQueuePayload struct {
	// Name of the queue that holds the tasks.
	Queue string `yaml:"queue" json:"queue"`
}

// NewDeleteQueueTask creates a new [asynq.Task] of the given type for
// cleaning up the given queue.
func NewDeleteQueueTask(taskType, queue string) (*asynq.Task, error) {
	if queue == "" {
		return nil, ErrNoQueue
	}

	data, err := json.Marshal(DeleteQueuePayload{Queue: queue})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(taskType, data), nil
}

// HandleDeleteArchivedTask deletes archived tasks.
func HandleDeleteArchivedTask(ctx context.Context, task *asynq.Task) error {
	var payload DeleteQueuePayload
	if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
		return asynqutils.SkipRetry(err)
	}

	if payload.Queue == "" {
		return asynqutils.SkipRetry(ErrNoQueue)
	}

	logger := asynqutils.GetLogger(ctx)

	count, err := asynqclient.Inspector.DeleteAllArchivedTasks(payload.Queue)
	if err != nil {
		return err
	}

	logger.Info("deleted archived tasks", "count", count)

	return nil
}

// HandleDeleteCompletedTask deletes completed tasks.
func HandleDeleteCompletedTask(ctx context.Context, task *asynq.Task) error {
	var payload DeleteQueuePayload
	if err := asynqutils.Unmarshal(task.Payload(), &payload); err != nil {
		return asynqutils.SkipRetry(err)
	}

	if payload.Queue == "" {
		return asynqutils.SkipRetry(ErrNoQueue)
	}

	logger := asynqutils.GetLogger(ctx)

	count, err := asynqclient.Inspector.DeleteAllCompletedTasks(payload.Queue)
	if err != nil {
		return err
	}

	logger.Info("deleted completed tasks", "count", count)

	return nil
}

func init() {
	registry.TaskRegistry.MustRegister(DeleteArchivedTaskType, asynq.HandlerFunc(HandleDeleteArchivedTask))
	registry.TaskRegistry.MustRegister(DeleteCompletedTaskType, asynq.HandlerFunc(HandleDeleteCompletedTask))
}
