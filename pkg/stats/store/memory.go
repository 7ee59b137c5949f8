// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/feedbackhub/rollup/pkg/stats/bucket"
	"github.com/feedbackhub/rollup/pkg/utils/tz"
)

type memoryKey struct {
	channelID uint64
	date      time.Time
}

// MemoryStore is a [Store], which keeps statistics in memory.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[memoryKey]int64
}

var _ Store = &MemoryStore{}

// NewMemoryStore creates a new empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts: make(map[memoryKey]int64),
	}
}

// UpsertAdd implements the [Store] interface.
func (s *MemoryStore) UpsertAdd(_ context.Context, channelID uint64, date time.Time, delta int64) error {
	if delta < 0 {
		return ErrNegativeDelta
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[memoryKey{channelID: channelID, date: tz.StartOfDay(date)}] += delta

	return nil
}

// Get returns the stored count of the given channel and day, and whether
// a row exists.
func (s *MemoryStore) Get(channelID uint64, date time.Time) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, ok := s.counts[memoryKey{channelID: channelID, date: tz.StartOfDay(date)}]

	return count, ok
}

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.counts)
}

// ListRows implements the [Store] interface.
func (s *MemoryStore) ListRows(_ context.Context, channelIDs []uint64, from, to time.Time) ([]bucket.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[uint64]bool, len(channelIDs))
	for _, id := range channelIDs {
		wanted[id] = true
	}

	from = tz.StartOfDay(from)
	to = tz.StartOfDay(to)
	rows := make([]bucket.Row, 0)
	for k, count := range s.counts {
		if !wanted[k.channelID] || k.date.Before(from) || k.date.After(to) {
			continue
		}
		rows = append(rows, bucket.Row{ChannelID: k.channelID, Date: k.date, Count: count})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ChannelID != rows[j].ChannelID {
			return rows[i].ChannelID < rows[j].ChannelID
		}
		return rows[i].Date.Before(rows[j].Date)
	})

	return rows, nil
}
