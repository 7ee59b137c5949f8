// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/feedbackhub/rollup/pkg/feedback/models"
)

// BunStore implements [Directory], [EventStore] and [RetentionConfig] on
// top of the feedback database.
type BunStore struct {
	db bun.IDB
}

var (
	_ Directory       = &BunStore{}
	_ EventStore      = &BunStore{}
	_ RetentionConfig = &BunStore{}
)

// NewBunStore creates a new [BunStore] using the given database.
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

// ListActiveProjects implements the [Directory] interface.
func (s *BunStore) ListActiveProjects(ctx context.Context) ([]ProjectScheduleFact, error) {
	items := make([]models.Project, 0)
	err := s.db.NewSelect().
		Model(&items).
		Column("id", "timezone_offset").
		Where("deleted_at IS NULL").
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]ProjectScheduleFact, 0, len(items))
	for _, item := range items {
		result = append(result, toScheduleFact(item))
	}

	return result, nil
}

// GetProject implements the [Directory] interface.
func (s *BunStore) GetProject(ctx context.Context, projectID uint64) (ProjectScheduleFact, error) {
	var item models.Project
	err := s.db.NewSelect().
		Model(&item).
		Column("id", "timezone_offset").
		Where("id = ?", projectID).
		Where("deleted_at IS NULL").
		Limit(1).
		Scan(ctx)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ProjectScheduleFact{}, fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	case err != nil:
		return ProjectScheduleFact{}, err
	}

	return toScheduleFact(item), nil
}

// ListChannels implements the [Directory] interface.
func (s *BunStore) ListChannels(ctx context.Context, projectID uint64) ([]uint64, error) {
	ids := make([]uint64, 0)
	err := s.db.NewSelect().
		Model((*models.Channel)(nil)).
		Column("id").
		Where("project_id = ?", projectID).
		Order("id").
		Scan(ctx, &ids)

	return ids, err
}

// CountEvents implements the [EventStore] interface.
func (s *BunStore) CountEvents(ctx context.Context, channelID uint64, from, to time.Time) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*models.Feedback)(nil)).
		Where("channel_id = ?", channelID).
		Where("created_at >= ?", from).
		Where("created_at < ?", to).
		Count(ctx)

	return int64(count), err
}

// ListEventsOlderThan implements the [EventStore] interface.
func (s *BunStore) ListEventsOlderThan(ctx context.Context, channelID uint64, cutoff time.Time, limit int) ([]uint64, error) {
	ids := make([]uint64, 0)
	err := s.db.NewSelect().
		Model((*models.Feedback)(nil)).
		Column("id").
		Where("channel_id = ?", channelID).
		Where("created_at < ?", cutoff).
		Order("id").
		Limit(limit).
		Scan(ctx, &ids)

	return ids, err
}

// DeleteEvents implements the [EventStore] interface.
func (s *BunStore) DeleteEvents(ctx context.Context, channelID uint64, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	out, err := s.db.NewDelete().
		Model((*models.Feedback)(nil)).
		Where("channel_id = ?", channelID).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	return out.RowsAffected()
}

// GetRetentionPolicy implements the [RetentionConfig] interface.
func (s *BunStore) GetRetentionPolicy(ctx context.Context) (RetentionPolicy, error) {
	var item models.Tenant
	err := s.db.NewSelect().
		Model(&item).
		Order("id").
		Limit(1).
		Scan(ctx)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RetentionPolicy{}, ErrNoTenant
	case err != nil:
		return RetentionPolicy{}, err
	}

	policy := RetentionPolicy{
		Enabled:    item.FeedbackRetentionEnabled,
		PeriodDays: item.FeedbackRetentionPeriodDays,
	}

	return policy, nil
}

func toScheduleFact(p models.Project) ProjectScheduleFact {
	return ProjectScheduleFact{
		ID:             p.ID,
		TimezoneOffset: p.TimezoneOffset,
	}
}
