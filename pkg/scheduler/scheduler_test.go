// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/feedbackhub/rollup/pkg/core/registry"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/jobs/models"
	"github.com/feedbackhub/rollup/pkg/lock"
	"github.com/feedbackhub/rollup/pkg/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// start is one hour before midnight UTC.
var start = time.Date(2024, time.January, 1, 23, 0, 0, 0, time.UTC)

// chanRecorder sends every recorded run to a channel.
type chanRecorder chan *models.JobRun

func (r chanRecorder) Record(_ context.Context, run *models.JobRun) error {
	r <- run
	return nil
}

func newClock(t *testing.T) *quartz.Mock {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(start)

	return clock
}

func newJob(key string, runner jobs.Runner) scheduler.Job {
	return scheduler.Job{
		Key:      key,
		Name:     "test",
		Trigger:  scheduler.Trigger{Hour: 0, Minute: 0},
		LockName: "LOCK:" + key,
		TTL:      5 * time.Minute,
		Runner:   runner,
	}
}

func receive(t *testing.T, ch <-chan *models.JobRun) *models.JobRun {
	t.Helper()
	select {
	case run := <-ch:
		return run
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job run")
		return nil
	}
}

func TestSchedulerFiresAndRearms(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t)
	runs := make(chanRecorder, 10)
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(clock))
	s := scheduler.New(manager, scheduler.WithClock(clock), scheduler.WithRecorder(runs))
	defer s.Stop()

	var count atomic.Int64
	runner := jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
		return jobs.Processed(count.Add(1)), nil
	})
	require.NoError(t, s.Register(newJob("a", runner)))

	entries := s.Entries()
	require.Len(t, entries, 1)
	midnight := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, midnight, entries[0].Next)

	clock.Advance(time.Hour).MustWait(ctx)
	run := receive(t, runs)
	require.Equal(t, string(jobs.StatusProcessed), run.Status)
	require.Equal(t, "LOCK:a", run.LockName)
	require.Equal(t, int64(1), run.Count)
	require.Equal(t, midnight.Add(24*time.Hour), s.Entries()[0].Next)

	clock.Advance(24 * time.Hour).MustWait(ctx)
	run = receive(t, runs)
	require.Equal(t, int64(2), run.Count)

	// The lease has been released after each run.
	_, ok := manager.TryLock(ctx, "LOCK:a", time.Minute)
	require.True(t, ok)
}

func TestSchedulerMutualExclusion(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t)
	store := lock.NewMemoryStore()
	runs := make(chanRecorder, 10)

	var count atomic.Int64
	release := make(chan struct{})
	runner := jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
		count.Add(1)
		<-release
		return jobs.Processed(1), nil
	})

	// Three replicas sharing the lock store.
	replicas := make([]*scheduler.Scheduler, 0)
	for range 3 {
		manager := lock.NewManager(store, lock.WithClock(clock))
		s := scheduler.New(manager, scheduler.WithClock(clock), scheduler.WithRecorder(runs))
		require.NoError(t, s.Register(newJob("shared", runner)))
		replicas = append(replicas, s)
	}

	clock.Advance(time.Hour).MustWait(ctx)

	// The two losers report immediately, while the winner is blocked.
	for range 2 {
		run := receive(t, runs)
		require.Equal(t, string(jobs.StatusLockHeld), run.Status)
	}
	close(release)
	run := receive(t, runs)
	require.Equal(t, string(jobs.StatusProcessed), run.Status)

	for _, s := range replicas {
		s.Stop()
	}
	require.Equal(t, int64(1), count.Load())
}

func TestSchedulerReleasesOnFailure(t *testing.T) {
	testCases := []struct {
		desc   string
		runner jobs.Runner
	}{
		{
			desc: "error",
			runner: jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
				return jobs.Result{}, errors.New("database is gone")
			}),
		},
		{
			desc: "panic",
			runner: jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
				panic("boom")
			}),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock(t)
			runs := make(chanRecorder, 10)
			manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(clock))
			s := scheduler.New(manager, scheduler.WithClock(clock), scheduler.WithRecorder(runs))
			defer s.Stop()

			require.NoError(t, s.Register(newJob("a", tc.runner)))
			clock.Advance(time.Hour).MustWait(ctx)

			run := receive(t, runs)
			require.Equal(t, string(jobs.StatusFailed), run.Status)
			require.NotEmpty(t, run.Reason)

			_, ok := manager.TryLock(ctx, "LOCK:a", time.Minute)
			require.True(t, ok)
		})
	}
}

type failingStore struct {
	lock.Store
}

func (failingStore) TryAcquire(context.Context, lock.Lease, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

func TestSchedulerSkipsOnStoreError(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t)
	runs := make(chanRecorder, 10)
	manager := lock.NewManager(failingStore{}, lock.WithClock(clock))
	s := scheduler.New(manager, scheduler.WithClock(clock), scheduler.WithRecorder(runs))
	defer s.Stop()

	var count atomic.Int64
	runner := jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
		count.Add(1)
		return jobs.Processed(0), nil
	})
	require.NoError(t, s.Register(newJob("a", runner)))
	clock.Advance(time.Hour).MustWait(ctx)

	run := receive(t, runs)
	require.Equal(t, string(jobs.StatusLockError), run.Status)
	require.Equal(t, int64(0), count.Load())
}

func TestSchedulerCancelAndReregister(t *testing.T) {
	ctx := context.Background()
	clock := newClock(t)
	runs := make(chanRecorder, 10)
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(clock))
	s := scheduler.New(manager, scheduler.WithClock(clock), scheduler.WithRecorder(runs))

	var count atomic.Int64
	runner := jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
		count.Add(1)
		return jobs.Processed(0), nil
	})

	job := newJob("a", runner)
	require.NoError(t, s.Register(job))
	require.ErrorIs(t, s.Register(job), registry.ErrKeyAlreadyRegistered)

	// Move the trigger to 01:00 UTC.
	job.Trigger = scheduler.Trigger{Hour: 1}
	require.NoError(t, s.Reregister(job))
	entries := s.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, time.Date(2024, time.January, 2, 1, 0, 0, 0, time.UTC), entries[0].Next)

	require.True(t, s.Cancel("a"))
	require.False(t, s.Cancel("a"))
	require.False(t, s.Exists("a"))
	require.Empty(t, s.Entries())

	clock.Advance(2 * time.Hour).MustWait(ctx)
	s.Stop()
	require.Equal(t, int64(0), count.Load())
	require.Empty(t, runs)
	require.ErrorIs(t, s.Register(job), scheduler.ErrStopped)
}

func TestSchedulerDisabled(t *testing.T) {
	clock := newClock(t)
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(clock))
	s := scheduler.New(manager, scheduler.WithClock(clock), scheduler.WithEnabled(false))
	defer s.Stop()

	runner := jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
		return jobs.Processed(0), nil
	})
	require.NoError(t, s.Register(newJob("a", runner)))
	require.False(t, s.Enabled())
	require.Empty(t, s.Entries())
}

func TestSchedulerRejectsInvalidJobs(t *testing.T) {
	s := scheduler.New(lock.NewManager(lock.NewMemoryStore()), scheduler.WithClock(newClock(t)))
	defer s.Stop()

	runner := jobs.RunnerFunc(func(context.Context) (jobs.Result, error) {
		return jobs.Processed(0), nil
	})

	noKey := newJob("", runner)
	noTTL := newJob("a", runner)
	noTTL.TTL = 0
	badTrigger := newJob("a", runner)
	badTrigger.Trigger = scheduler.Trigger{Hour: 25}
	noRunner := newJob("a", nil)

	for _, job := range []scheduler.Job{noKey, noTTL, badTrigger, noRunner} {
		require.ErrorIs(t, s.Register(job), scheduler.ErrInvalidJob)
	}
}
