// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/utils/tz"
)

// ProjectJobFunc returns the aggregation [Job] of the given project, which
// fires on the given trigger.
type ProjectJobFunc func(project store.ProjectScheduleFact, trigger Trigger) Job

// AggregateKey returns the registration key of the aggregation job of the
// given project.
func AggregateKey(projectID uint64) string {
	return fmt.Sprintf("aggregate:%d", projectID)
}

// ProjectSync keeps the aggregation jobs of a [Scheduler] in line with the
// active projects: new projects are registered, projects with a changed
// timezone offset are re-registered and removed projects are cancelled.
type ProjectSync struct {
	scheduler *Scheduler
	directory store.Directory
	newJob    ProjectJobFunc

	mu      sync.Mutex
	offsets map[uint64]string
}

// NewProjectSync creates a new [ProjectSync].
func NewProjectSync(s *Scheduler, directory store.Directory, newJob ProjectJobFunc) *ProjectSync {
	ps := &ProjectSync{
		scheduler: s,
		directory: directory,
		newJob:    newJob,
		offsets:   make(map[uint64]string),
	}

	return ps
}

// Sync reads the active projects once and updates the registrations.
func (ps *ProjectSync) Sync(ctx context.Context) error {
	projects, err := ps.directory.ListActiveProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	logger := ps.scheduler.logger
	seen := make(map[uint64]bool, len(projects))
	allErrs := make([]error, 0)
	for _, project := range projects {
		seen[project.ID] = true
		key := AggregateKey(project.ID)
		known, registered := ps.offsets[project.ID]
		if registered && known == project.TimezoneOffset {
			continue
		}

		offset, err := tz.ParseOffset(project.TimezoneOffset)
		if err != nil {
			// Dropped until the offset is fixed.
			logger.Info("project has no valid timezone offset, not scheduled", "project_id", project.ID, "reason", err)
			ps.scheduler.Cancel(key)
			ps.offsets[project.ID] = project.TimezoneOffset

			continue
		}

		job := ps.newJob(project, DailyTrigger(offset))
		if err := ps.scheduler.Reregister(job); err != nil {
			logger.Error("failed to register project", "project_id", project.ID, "reason", err)
			allErrs = append(allErrs, err)

			continue
		}
		ps.offsets[project.ID] = project.TimezoneOffset
	}

	for projectID := range ps.offsets {
		if seen[projectID] {
			continue
		}
		ps.scheduler.Cancel(AggregateKey(projectID))
		delete(ps.offsets, projectID)
		logger.Info("project removed, job cancelled", "project_id", projectID)
	}

	return errors.Join(allErrs...)
}

// Run syncs the projects immediately, and then on every interval until the
// context is cancelled.
func (ps *ProjectSync) Run(ctx context.Context, interval time.Duration) error {
	logger := ps.scheduler.logger
	if err := ps.Sync(ctx); err != nil {
		logger.Error("failed to sync projects", "reason", err)
	}

	waiter := ps.scheduler.clock.TickerFunc(ctx, interval, func() error {
		if err := ps.Sync(ctx); err != nil {
			logger.Error("failed to sync projects", "reason", err)
		}

		return nil
	}, "scheduler", "sync")

	err := waiter.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// AggregateJob returns a [ProjectJobFunc], which creates aggregation jobs
// running the given runner factory under the project lease.
func AggregateJob(name string, ttl time.Duration, runner func(projectID uint64) jobs.Runner) ProjectJobFunc {
	return func(project store.ProjectScheduleFact, trigger Trigger) Job {
		return Job{
			Key:      AggregateKey(project.ID),
			Name:     name,
			Trigger:  trigger,
			LockName: jobs.AggregateLockName(project.ID),
			TTL:      ttl,
			Runner:   runner(project.ID),
		}
	}
}
