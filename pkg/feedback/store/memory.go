// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of [Directory], [EventStore]
// and [RetentionConfig].
type MemoryStore struct {
	mu       sync.Mutex
	projects map[uint64]ProjectScheduleFact
	channels map[uint64][]uint64
	events   map[uint64]map[uint64]time.Time
	policy   *RetentionPolicy
	nextID   uint64

	// FailChannels makes every event operation on the listed channels
	// fail with the mapped error.
	FailChannels map[uint64]error
}

var (
	_ Directory       = &MemoryStore{}
	_ EventStore      = &MemoryStore{}
	_ RetentionConfig = &MemoryStore{}
)

// NewMemoryStore creates a new empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		projects:     make(map[uint64]ProjectScheduleFact),
		channels:     make(map[uint64][]uint64),
		events:       make(map[uint64]map[uint64]time.Time),
		FailChannels: make(map[uint64]error),
	}

	return s
}

// PutProject creates or replaces the given project.
func (s *MemoryStore) PutProject(p ProjectScheduleFact, channelIDs ...uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	s.channels[p.ID] = slices.Clone(channelIDs)
}

// DeleteProject removes the given project.
func (s *MemoryStore) DeleteProject(projectID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, projectID)
	delete(s.channels, projectID)
}

// SetRetentionPolicy sets the tenant retention policy.
func (s *MemoryStore) SetRetentionPolicy(policy RetentionPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = &policy
}

// AddEvent adds an event to the given channel and returns its id.
func (s *MemoryStore) AddEvent(channelID uint64, createdAt time.Time) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.events[channelID] == nil {
		s.events[channelID] = make(map[uint64]time.Time)
	}
	s.events[channelID][s.nextID] = createdAt

	return s.nextID
}

// EventCount returns the number of events stored for the channel.
func (s *MemoryStore) EventCount(channelID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.events[channelID])
}

// HasEvent returns true, if the event with the given id is stored.
func (s *MemoryStore) HasEvent(channelID, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[channelID][id]

	return ok
}

// ListActiveProjects implements the [Directory] interface.
func (s *MemoryStore) ListActiveProjects(_ context.Context) ([]ProjectScheduleFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]ProjectScheduleFact, 0, len(s.projects))
	for _, p := range s.projects {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b ProjectScheduleFact) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return result, nil
}

// GetProject implements the [Directory] interface.
func (s *MemoryStore) GetProject(_ context.Context, projectID uint64) (ProjectScheduleFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return ProjectScheduleFact{}, fmt.Errorf("%w: %d", ErrProjectNotFound, projectID)
	}

	return p, nil
}

// ListChannels implements the [Directory] interface.
func (s *MemoryStore) ListChannels(_ context.Context, projectID uint64) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.channels[projectID]), nil
}

// CountEvents implements the [EventStore] interface.
func (s *MemoryStore) CountEvents(_ context.Context, channelID uint64, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailChannels[channelID]; err != nil {
		return 0, err
	}

	var count int64
	for _, createdAt := range s.events[channelID] {
		if !createdAt.Before(from) && createdAt.Before(to) {
			count++
		}
	}

	return count, nil
}

// ListEventsOlderThan implements the [EventStore] interface.
func (s *MemoryStore) ListEventsOlderThan(_ context.Context, channelID uint64, cutoff time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailChannels[channelID]; err != nil {
		return nil, err
	}

	ids := make([]uint64, 0)
	for id, createdAt := range s.events[channelID] {
		if createdAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

// DeleteEvents implements the [EventStore] interface.
func (s *MemoryStore) DeleteEvents(_ context.Context, channelID uint64, ids []uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailChannels[channelID]; err != nil {
		return 0, err
	}

	var deleted int64
	for _, id := range ids {
		if _, ok := s.events[channelID][id]; ok {
			delete(s.events[channelID], id)
			deleted++
		}
	}

	return deleted, nil
}

// GetRetentionPolicy implements the [RetentionConfig] interface.
func (s *MemoryStore) GetRetentionPolicy(_ context.Context) (RetentionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy == nil {
		return RetentionPolicy{}, ErrNoTenant
	}

	return *s.policy, nil
}
