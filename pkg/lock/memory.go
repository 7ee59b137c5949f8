// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a [Store], which keeps leases in process memory. It
// provides mutual exclusion only between callers sharing the same
// MemoryStore, e.g. a single replica deployment.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]Lease
}

var _ Store = &MemoryStore{}

// NewMemoryStore creates a new empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		leases: make(map[string]Lease),
	}

	return s
}

// TryAcquire implements the [Store] interface.
func (s *MemoryStore) TryAcquire(_ context.Context, lease Lease, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.leases[lease.Name]
	if ok && !existing.HeldUntil.Before(now) {
		return false, nil
	}

	s.leases[lease.Name] = lease

	return true, nil
}

// Release implements the [Store] interface.
func (s *MemoryStore) Release(_ context.Context, name, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.leases[name]
	if !ok || existing.Token != token {
		return false, nil
	}

	delete(s.leases, name)

	return true, nil
}

// List implements the [Store] interface.
func (s *MemoryStore) List(_ context.Context) ([]Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Lease, 0, len(s.leases))
	for _, lease := range s.leases {
		items = append(items, lease)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})

	return items, nil
}

// Purge implements the [Store] interface.
func (s *MemoryStore) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for name, lease := range s.leases {
		if lease.HeldUntil.Before(before) {
			delete(s.leases, name)
			count++
		}
	}

	return count, nil
}
