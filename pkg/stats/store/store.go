// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package store provides access to the stored feedback statistics.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/feedbackhub/rollup/pkg/stats/bucket"
	"github.com/feedbackhub/rollup/pkg/stats/models"
	"github.com/feedbackhub/rollup/pkg/utils/tz"
)

// ErrNegativeDelta is an error, which is returned when attempting to
// decrease a stored count.
var ErrNegativeDelta = errors.New("negative statistics delta")

// Store is the storage of day-level statistics buckets.
type Store interface {
	// UpsertAdd adds delta to the count of the given channel and day, or
	// inserts delta as the initial count. The read and the write are a
	// single atomic operation.
	UpsertAdd(ctx context.Context, channelID uint64, date time.Time, delta int64) error

	// ListRows returns the stored day-level rows of the given channels
	// with a date in [from, to].
	ListRows(ctx context.Context, channelIDs []uint64, from, to time.Time) ([]bucket.Row, error)
}

// BunStore is a [Store] backed by the database.
type BunStore struct {
	db bun.IDB
}

var _ Store = &BunStore{}

// NewBunStore creates a new [BunStore] using the given database.
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

// UpsertAdd implements the [Store] interface.
func (s *BunStore) UpsertAdd(ctx context.Context, channelID uint64, date time.Time, delta int64) error {
	if delta < 0 {
		return ErrNegativeDelta
	}

	item := &models.FeedbackStatistic{
		ChannelID: channelID,
		Date:      tz.StartOfDay(date),
		Count:     delta,
	}

	_, err := s.db.NewInsert().
		Model(item).
		On("CONFLICT (channel_id, date) DO UPDATE").
		Set("count = ?TableAlias.count + EXCLUDED.count").
		Set("updated_at = current_timestamp").
		Exec(ctx)

	return err
}

// ListRows implements the [Store] interface.
func (s *BunStore) ListRows(ctx context.Context, channelIDs []uint64, from, to time.Time) ([]bucket.Row, error) {
	if len(channelIDs) == 0 {
		return []bucket.Row{}, nil
	}

	items := make([]models.FeedbackStatistic, 0)
	err := s.db.NewSelect().
		Model(&items).
		Where("channel_id IN (?)", bun.In(channelIDs)).
		Where("date >= ?", tz.StartOfDay(from)).
		Where("date <= ?", tz.StartOfDay(to)).
		Order("channel_id", "date").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]bucket.Row, 0, len(items))
	for _, item := range items {
		row := bucket.Row{
			ChannelID: item.ChannelID,
			Date:      item.Date,
			Count:     item.Count,
		}
		rows = append(rows, row)
	}

	return rows, nil
}
