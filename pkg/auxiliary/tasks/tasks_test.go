// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/rollup/pkg/auxiliary/tasks"
	"github.com/feedbackhub/rollup/pkg/core/registry"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/jobs/models"
	"github.com/feedbackhub/rollup/pkg/lock"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

var now = time.Date(2025, time.June, 1, 0, 30, 0, 0, time.UTC)

// failingPurger is a [jobs.Purger], which always fails.
type failingPurger struct{}

func (failingPurger) Purge(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func newLockManager(t *testing.T, clock quartz.Clock) *lock.Manager {
	t.Helper()

	ctx := context.Background()
	store := lock.NewMemoryStore()
	stale := lock.Lease{Name: "STATS_AGGREGATE:1", Token: "a", HeldUntil: now.Add(-48 * time.Hour)}
	ok, err := store.TryAcquire(ctx, stale, now.Add(-49*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	held := lock.Lease{Name: "FEEDBACK_DELETE", Token: "b", HeldUntil: now.Add(time.Minute)}
	ok, err = store.TryAcquire(ctx, held, now)
	require.NoError(t, err)
	require.True(t, ok)

	return lock.NewManager(store, lock.WithClock(clock))
}

func TestNewDeleteQueueTask(t *testing.T) {
	_, err := tasks.NewDeleteQueueTask(tasks.DeleteArchivedTaskType, "")
	require.ErrorIs(t, err, tasks.ErrNoQueue)

	task, err := tasks.NewDeleteQueueTask(tasks.DeleteCompletedTaskType, "default")
	require.NoError(t, err)
	require.Equal(t, tasks.DeleteCompletedTaskType, task.Type())

	var payload tasks.DeleteQueuePayload
	require.NoError(t, asynqutils.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "default", payload.Queue)
}

func TestHandleDeleteQueueTaskWithoutQueue(t *testing.T) {
	handlers := map[string]asynq.HandlerFunc{
		tasks.DeleteArchivedTaskType:  tasks.HandleDeleteArchivedTask,
		tasks.DeleteCompletedTaskType: tasks.HandleDeleteCompletedTask,
	}

	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			err := handler(context.Background(), asynq.NewTask(name, []byte(`{}`)))
			require.True(t, errors.Is(err, tasks.ErrNoQueue))
			require.True(t, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestNewHousekeeperTask(t *testing.T) {
	task, err := tasks.NewHousekeeperTask(tasks.HousekeeperPayload{LockPurgeAfter: time.Hour})
	require.NoError(t, err)

	var payload tasks.HousekeeperPayload
	require.NoError(t, asynqutils.Unmarshal(task.Payload(), &payload))
	require.Equal(t, time.Hour, payload.LockPurgeAfter)

	err = tasks.HandleHousekeeperTask(context.Background(), asynq.NewTask(tasks.HousekeeperTaskType, []byte("lock_purge_after: [\n")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestTasksRegistered(t *testing.T) {
	for _, name := range []string{tasks.HousekeeperTaskType, tasks.DeleteArchivedTaskType, tasks.DeleteCompletedTaskType} {
		require.True(t, registry.TaskRegistry.Exists(name), name)
	}
}

func TestHousekeeperRun(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(now)
	manager := newLockManager(t, clock)

	runs := jobs.NewMemoryRecorder()
	require.NoError(t, runs.Record(ctx, &models.JobRun{JobName: "old", CompletedAt: now.Add(-72 * time.Hour)}))
	require.NoError(t, runs.Record(ctx, &models.JobRun{JobName: "recent", CompletedAt: now.Add(-time.Hour)}))

	housekeeper := tasks.NewHousekeeper(
		manager,
		runs,
		tasks.WithClock(clock),
		tasks.WithLockPurgeAfter(24*time.Hour),
		tasks.WithJobRunRetention(48*time.Hour),
	)
	result, err := housekeeper.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, jobs.Processed(2), result)

	leases, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, "FEEDBACK_DELETE", leases[0].Name)

	remaining := runs.Runs()
	require.Len(t, remaining, 1)
	require.Equal(t, "recent", remaining[0].JobName)
}

func TestHousekeeperRunContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(now)
	manager := newLockManager(t, clock)

	housekeeper := tasks.NewHousekeeper(manager, failingPurger{}, tasks.WithClock(clock), tasks.WithLockPurgeAfter(24*time.Hour))
	result, err := housekeeper.Run(ctx)
	require.Error(t, err)
	require.Equal(t, int64(1), result.Count)

	leases, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
}
