// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/feedbackhub/rollup/pkg/jobs/models"
)

// Recorder persists the outcome of job runs.
type Recorder interface {
	// Record stores the given run.
	Record(ctx context.Context, run *models.JobRun) error
}

// Purger deletes old job run records.
type Purger interface {
	// Purge deletes the runs completed before the given time and returns
	// the number of deleted runs.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// BunRecorder is a [Recorder], which stores runs in the database.
type BunRecorder struct {
	db *bun.DB
}

var (
	_ Recorder = &BunRecorder{}
	_ Purger   = &BunRecorder{}
)

// NewBunRecorder returns a new [BunRecorder] using the given database.
func NewBunRecorder(db *bun.DB) *BunRecorder {
	return &BunRecorder{db: db}
}

// Record implements the [Recorder] interface.
func (r *BunRecorder) Record(ctx context.Context, run *models.JobRun) error {
	_, err := r.db.NewInsert().
		Model(run).
		Returning("id").
		Exec(ctx)

	return err
}

// Purge implements the [Purger] interface.
func (r *BunRecorder) Purge(ctx context.Context, before time.Time) (int64, error) {
	out, err := r.db.NewDelete().
		Model((*models.JobRun)(nil)).
		Where("completed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	return out.RowsAffected()
}

// MemoryRecorder is a [Recorder], which keeps runs in process memory.
type MemoryRecorder struct {
	mu   sync.Mutex
	runs []*models.JobRun
}

var (
	_ Recorder = &MemoryRecorder{}
	_ Purger   = &MemoryRecorder{}
)

// NewMemoryRecorder returns a new empty [MemoryRecorder].
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{runs: make([]*models.JobRun, 0)}
}

// Record implements the [Recorder] interface.
func (r *MemoryRecorder) Record(_ context.Context, run *models.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)

	return nil
}

// Purge implements the [Purger] interface.
func (r *MemoryRecorder) Purge(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.runs)
	r.runs = slices.DeleteFunc(r.runs, func(run *models.JobRun) bool {
		return run.CompletedAt.Before(before)
	})

	return int64(n - len(r.runs)), nil
}

// Runs returns the recorded runs in the order they were recorded.
func (r *MemoryRecorder) Runs() []*models.JobRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.runs)
}

// NopRecorder is a [Recorder], which discards runs.
type NopRecorder struct{}

// Record implements the [Recorder] interface.
func (NopRecorder) Record(context.Context, *models.JobRun) error {
	return nil
}
