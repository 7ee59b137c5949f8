// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package scheduler runs jobs on daily triggers. Every fire of a trigger is
// guarded by the lease of the job, so that across all replicas at most one
// replica runs the job for a given fire.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/feedbackhub/rollup/pkg/core/registry"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/jobs/models"
	"github.com/feedbackhub/rollup/pkg/lock"
	"github.com/feedbackhub/rollup/pkg/metrics"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

// ErrInvalidJob is an error, which is returned when registering a job with
// missing or invalid settings.
var ErrInvalidJob = errors.New("invalid job")

// ErrJobPanicked is an error, which is reported when a job panics.
var ErrJobPanicked = errors.New("job panicked")

// ErrStopped is an error, which is returned when registering a job with a
// stopped scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Job describes a job registered with the [Scheduler].
type Job struct {
	// Key uniquely identifies the registration, e.g. one per project.
	Key string

	// Name is the kind of the job, used for metrics and run records.
	Name string

	// Trigger specifies when the job fires.
	Trigger Trigger

	// LockName is the name of the lease guarding the job.
	LockName string

	// TTL is the lease TTL. It should be well above the expected run
	// time of the job.
	TTL time.Duration

	// Runner is the job itself.
	Runner jobs.Runner
}

func (j Job) validate() error {
	switch {
	case j.Key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidJob)
	case j.Name == "":
		return fmt.Errorf("%w: %s: empty name", ErrInvalidJob, j.Key)
	case j.LockName == "":
		return fmt.Errorf("%w: %s: empty lock name", ErrInvalidJob, j.Key)
	case j.TTL <= 0:
		return fmt.Errorf("%w: %s: invalid ttl %s", ErrInvalidJob, j.Key, j.TTL)
	case j.Runner == nil:
		return fmt.Errorf("%w: %s: no runner", ErrInvalidJob, j.Key)
	}

	if err := j.Trigger.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidJob, j.Key, err)
	}

	return nil
}

// Entry describes a registered job.
type Entry struct {
	Key      string
	Name     string
	LockName string
	Trigger  Trigger
	Next     time.Time
}

// entry is the in-process state of a registered job.
type entry struct {
	mu        sync.Mutex
	job       Job
	timer     *quartz.Timer
	next      time.Time
	cancelled bool
}

// Scheduler fires registered jobs on their triggers.
type Scheduler struct {
	locks    *lock.Manager
	clock    quartz.Clock
	recorder jobs.Recorder
	logger   *slog.Logger
	enabled  bool

	entries *registry.Registry[string, *entry]
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// Option is a function, which configures the [Scheduler].
type Option func(s *Scheduler)

// WithClock is an [Option], which configures the [Scheduler] to use the
// given clock.
func WithClock(clock quartz.Clock) Option {
	opt := func(s *Scheduler) {
		s.clock = clock
	}

	return opt
}

// WithRecorder is an [Option], which configures the [Scheduler] to record
// every fire with the given [jobs.Recorder].
func WithRecorder(recorder jobs.Recorder) Option {
	opt := func(s *Scheduler) {
		s.recorder = recorder
	}

	return opt
}

// WithLogger is an [Option], which configures the logger of the
// [Scheduler]. Jobs receive it through their context.
func WithLogger(logger *slog.Logger) Option {
	opt := func(s *Scheduler) {
		s.logger = logger
	}

	return opt
}

// WithEnabled is an [Option], which enables or disables scheduling. A
// disabled [Scheduler] accepts registrations, but never fires.
func WithEnabled(enabled bool) Option {
	opt := func(s *Scheduler) {
		s.enabled = enabled
	}

	return opt
}

// New creates a new [Scheduler], which guards jobs with leases from the
// given [lock.Manager].
func New(locks *lock.Manager, opts ...Option) *Scheduler {
	s := &Scheduler{
		locks:    locks,
		clock:    quartz.NewReal(),
		recorder: jobs.NopRecorder{},
		logger:   slog.Default(),
		enabled:  true,
		entries:  registry.New[string, *entry](),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(asynqutils.WithLogger(context.Background(), s.logger))

	return s
}

// Enabled returns true, if the scheduler fires jobs.
func (s *Scheduler) Enabled() bool {
	return s.enabled
}

// Register registers the job, so that it fires on its trigger. Registering
// a key, which is already registered, fails with
// [registry.ErrKeyAlreadyRegistered]. When scheduling is disabled, Register
// only logs the registration.
func (s *Scheduler) Register(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}

	logger := s.logger.With("job", job.Key, "lock_name", job.LockName, "trigger", job.Trigger.String())
	if !s.enabled {
		logger.Info("scheduling disabled, job not registered")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	e := &entry{job: job}
	if err := s.entries.Register(job.Key, e); err != nil {
		return err
	}

	e.mu.Lock()
	s.arm(e)
	next := e.next
	e.mu.Unlock()

	logger.Info("job registered", "next", next)

	return nil
}

// Cancel stops the timer of the job with the given key. A run, which is in
// progress, is not interrupted. It returns false, if the key is not
// registered.
func (s *Scheduler) Cancel(key string) bool {
	e, ok := s.entries.Pop(key)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
	if e.timer != nil {
		e.timer.Stop()
	}
	s.logger.Info("job cancelled", "job", key)

	return true
}

// Reregister replaces the registration of the job with the same key, e.g.
// after the timezone offset of a project has changed.
func (s *Scheduler) Reregister(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}

	s.Cancel(job.Key)

	return s.Register(job)
}

// Exists returns true, if a job with the given key is registered.
func (s *Scheduler) Exists(key string) bool {
	return s.entries.Exists(key)
}

// Entries returns the registered jobs ordered by key.
func (s *Scheduler) Entries() []Entry {
	result := make([]Entry, 0, s.entries.Length())
	_ = s.entries.Range(func(_ string, e *entry) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		item := Entry{
			Key:      e.job.Key,
			Name:     e.job.Name,
			LockName: e.job.LockName,
			Trigger:  e.job.Trigger,
			Next:     e.next,
		}
		result = append(result, item)

		return nil
	})

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// Stop cancels all registrations and waits for running jobs to complete.
// The context passed to running jobs is cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	for _, key := range s.entries.Keys() {
		s.Cancel(key)
	}
	s.cancel()
	s.wg.Wait()
}

// arm schedules the next fire of the entry. Must be called with e.mu held.
func (s *Scheduler) arm(e *entry) {
	now := s.clock.Now()
	e.next = e.job.Trigger.Next(now)
	e.timer = s.clock.AfterFunc(e.next.Sub(now), func() { s.fire(e) }, "scheduler", e.job.Key)
}

// fire re-arms the entry and runs the job in the background, so that a slow
// job never delays the following fires.
func (s *Scheduler) fire(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelled {
		return
	}

	job := e.job
	s.arm(e)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(job)
	}()
}

// run runs the job once, if its lease can be acquired.
func (s *Scheduler) run(job Job) {
	logger := s.logger.With("job", job.Key, "lock_name", job.LockName)
	ctx := asynqutils.WithLogger(s.ctx, logger)
	startedAt := s.clock.Now()

	lease, status := s.locks.Acquire(ctx, job.LockName, job.TTL)
	var result jobs.Result
	var err error
	switch status {
	case lock.StatusHeld:
		logger.Info("skipped, lock held elsewhere")
		result = jobs.Result{Status: jobs.StatusLockHeld}
	case lock.StatusStoreError:
		logger.Warn("skipped, lock store unavailable")
		result = jobs.Result{Status: jobs.StatusLockError}
	case lock.StatusAcquired:
		result, err = s.invoke(ctx, job, lease)
		elapsed := s.clock.Since(startedAt)
		metrics.JobDurationSeconds.WithLabelValues(job.Name).Observe(elapsed.Seconds())
		if err != nil {
			logger.Error("job failed", "reason", err, "count", result.Count, "duration", elapsed)
			result.Status = jobs.StatusFailed
			result.Reason = err.Error()
		} else {
			logger.Info("job completed", "status", result.Status, "reason", result.Reason, "count", result.Count, "duration", elapsed)
		}
	}

	metrics.JobRunsTotal.WithLabelValues(job.Name, string(result.Status)).Inc()
	run := &models.JobRun{
		JobName:     job.Name,
		LockName:    job.LockName,
		Status:      string(result.Status),
		Reason:      result.Reason,
		Count:       result.Count,
		StartedAt:   startedAt,
		CompletedAt: s.clock.Now(),
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.recorder.Record(recordCtx, run); err != nil {
		logger.Warn("failed to record job run", "reason", err)
	}
}

// invoke runs the job while holding the lease, and releases the lease once
// the job returns or panics.
func (s *Scheduler) invoke(ctx context.Context, job Job, lease lock.Lease) (result jobs.Result, err error) {
	defer s.locks.Release(ctx, lease)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()

	return job.Runner.Run(ctx)
}
