// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/uptrace/bun"

	coremodels "github.com/feedbackhub/rollup/pkg/core/models"
	"github.com/feedbackhub/rollup/pkg/core/registry"
)

// JobRun represents a single run, or skipped run, of a scheduled job.
type JobRun struct {
	bun.BaseModel `bun:"table:job_runs"`
	coremodels.Model

	// JobName is the key under which the job is registered.
	JobName string `bun:"job_name,notnull"`

	// LockName is the name of the lease guarding the job.
	LockName string `bun:"lock_name,notnull"`

	// Status is the outcome of the run.
	Status string `bun:"status,notnull"`

	// Reason is the skip reason or error message, if any.
	Reason string `bun:"reason,notnull"`

	// Count is the number of items processed by the run.
	Count int64 `bun:"count,notnull"`

	// StartedAt specifies when the run started.
	StartedAt time.Time `bun:"started_at,notnull"`

	// CompletedAt specifies when the run completed.
	CompletedAt time.Time `bun:"completed_at,notnull"`
}

func init() {
	registry.ModelRegistry.MustRegister("jobs:model:job_run", &JobRun{})
}
