// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package jobs provides the types shared by the scheduled jobs.
package jobs

import (
	"context"
	"fmt"
)

// RetentionLockName is the name of the lease, which guards the tenant-wide
// feedback retention job.
const RetentionLockName = "FEEDBACK_DELETE"

// HousekeeperLockName is the name of the lease, which guards the
// housekeeper job.
const HousekeeperLockName = "HOUSEKEEPER"

// aggregateLockPrefix is the prefix of the per-project aggregation leases.
const aggregateLockPrefix = "STATS_AGGREGATE"

// AggregateLockName returns the name of the lease, which guards the
// statistics aggregation of the given project.
func AggregateLockName(projectID uint64) string {
	return fmt.Sprintf("%s:%d", aggregateLockPrefix, projectID)
}

// Status represents the outcome of a job run.
type Status string

const (
	// StatusProcessed means that the job did its work.
	StatusProcessed Status = "processed"

	// StatusSkipped means that the job decided not to do anything, e.g.
	// because of configuration.
	StatusSkipped Status = "skipped"

	// StatusLockHeld means that the job was not invoked, because another
	// replica holds its lease.
	StatusLockHeld Status = "lock_held"

	// StatusLockError means that the job was not invoked, because the
	// lock store could not be reached.
	StatusLockError Status = "lock_error"

	// StatusFailed means that the job returned an error.
	StatusFailed Status = "failed"
)

// Result is the outcome of a single job run.
type Result struct {
	// Status is the status of the run.
	Status Status

	// Reason provides the reason for skipped runs.
	Reason string

	// Count is the number of items processed by the run, e.g. buckets
	// written or feedback deleted.
	Count int64
}

// Processed returns a [Result] for a run, which processed count items.
func Processed(count int64) Result {
	return Result{Status: StatusProcessed, Count: count}
}

// Skipped returns a [Result] for a run, which was skipped for the given
// reason.
func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// Runner is a job, which can be invoked by the scheduler.
type Runner interface {
	// Run runs the job once. Errors returned by Run are unexpected
	// failures; expected no-ops are reported via [Skipped].
	Run(ctx context.Context) (Result, error)
}

// RunnerFunc is an adapter which allows using ordinary functions as a
// [Runner].
type RunnerFunc func(ctx context.Context) (Result, error)

// Run implements the [Runner] interface.
func (f RunnerFunc) Run(ctx context.Context) (Result, error) {
	return f(ctx)
}
