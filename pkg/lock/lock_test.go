// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/rollup/pkg/lock"
)

// failingStore is a [lock.Store], which always fails.
type failingStore struct {
	releaseCalls int
}

func (s *failingStore) TryAcquire(context.Context, lock.Lease, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}

func (s *failingStore) Release(context.Context, string, string) (bool, error) {
	s.releaseCalls++
	return false, errors.New("connection refused")
}

func (s *failingStore) List(context.Context) ([]lock.Lease, error) {
	return nil, errors.New("connection refused")
}

func (s *failingStore) Purge(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestAcquireMutualExclusion(t *testing.T) {
	const replicas = 16

	store := lock.NewMemoryStore()
	mClock := quartz.NewMock(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
		held     int
	)

	start := make(chan struct{})
	for range replicas {
		// Every replica has its own manager sharing the same store.
		manager := lock.NewManager(store, lock.WithClock(mClock))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, status := manager.Acquire(context.Background(), "STATS_AGGREGATE:1", time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case lock.StatusAcquired:
				acquired++
			case lock.StatusHeld:
				held++
			}
		}()
	}

	close(start)
	wg.Wait()

	require.Equal(t, 1, acquired)
	require.Equal(t, replicas-1, held)
}

func TestAcquireAfterExpiry(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(mClock))

	lease, status := manager.Acquire(ctx, "FEEDBACK_DELETE", 5*time.Minute)
	require.Equal(t, lock.StatusAcquired, status)
	require.Equal(t, mClock.Now().Add(5*time.Minute), lease.HeldUntil)

	mClock.Advance(4 * time.Minute).MustWait(ctx)
	_, status = manager.Acquire(ctx, "FEEDBACK_DELETE", 5*time.Minute)
	require.Equal(t, lock.StatusHeld, status)

	// The holder never releases, e.g. because it crashed.
	mClock.Advance(time.Minute + time.Millisecond).MustWait(ctx)
	_, status = manager.Acquire(ctx, "FEEDBACK_DELETE", 5*time.Minute)
	require.Equal(t, lock.StatusAcquired, status)
}

func TestReleaseMakesLeaseAcquirable(t *testing.T) {
	ctx := context.Background()
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(quartz.NewMock(t)))

	lease, ok := manager.TryLock(ctx, "FEEDBACK_DELETE", time.Minute)
	require.True(t, ok)

	manager.Release(ctx, lease)

	_, ok = manager.TryLock(ctx, "FEEDBACK_DELETE", time.Minute)
	require.True(t, ok)
}

func TestStaleHolderCannotRelease(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	store := lock.NewMemoryStore()
	manager := lock.NewManager(store, lock.WithClock(mClock))

	stale, ok := manager.TryLock(ctx, "STATS_AGGREGATE:7", time.Minute)
	require.True(t, ok)

	mClock.Advance(2 * time.Minute).MustWait(ctx)
	current, ok := manager.TryLock(ctx, "STATS_AGGREGATE:7", time.Minute)
	require.True(t, ok)
	require.NotEqual(t, stale.Token, current.Token)

	// Releasing the expired lease must not free the lease of the new
	// holder.
	manager.Release(ctx, stale)
	_, status := manager.Acquire(ctx, "STATS_AGGREGATE:7", time.Minute)
	require.Equal(t, lock.StatusHeld, status)

	leases, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, current.Token, leases[0].Token)
}

func TestReleaseOfExpiredLeaseIsNoop(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(mClock))

	lease, ok := manager.TryLock(ctx, "FEEDBACK_DELETE", time.Minute)
	require.True(t, ok)

	mClock.Advance(time.Hour).MustWait(ctx)
	manager.Release(ctx, lease)
	manager.Release(ctx, lease)
	manager.Release(ctx, lock.Lease{})
}

func TestStoreErrorIsReportedAsNotAcquired(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	manager := lock.NewManager(store, lock.WithClock(quartz.NewMock(t)))

	lease, status := manager.Acquire(ctx, "FEEDBACK_DELETE", time.Minute)
	require.Equal(t, lock.StatusStoreError, status)
	require.Empty(t, lease.Token)

	_, ok := manager.TryLock(ctx, "FEEDBACK_DELETE", time.Minute)
	require.False(t, ok)

	// Release failures are swallowed.
	manager.Release(ctx, lock.Lease{Name: "FEEDBACK_DELETE", Token: "token"})
	require.Equal(t, 1, store.releaseCalls)
}

func TestAcquireInvalidArguments(t *testing.T) {
	ctx := context.Background()
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(quartz.NewMock(t)))

	_, status := manager.Acquire(ctx, "", time.Minute)
	require.Equal(t, lock.StatusStoreError, status)

	_, status = manager.Acquire(ctx, "FEEDBACK_DELETE", 0)
	require.Equal(t, lock.StatusStoreError, status)
}

func TestWithLock(t *testing.T) {
	ctx := context.Background()
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(quartz.NewMock(t)))

	calls := 0
	status, err := manager.WithLock(ctx, "FEEDBACK_DELETE", time.Minute, func(ctx context.Context) error {
		calls++

		// Nested attempts on the same lease lose.
		_, inner := manager.Acquire(ctx, "FEEDBACK_DELETE", time.Minute)
		require.Equal(t, lock.StatusHeld, inner)

		return errors.New("job failed")
	})
	require.Equal(t, lock.StatusAcquired, status)
	require.EqualError(t, err, "job failed")
	require.Equal(t, 1, calls)

	// The lease has been released despite the error.
	_, ok := manager.TryLock(ctx, "FEEDBACK_DELETE", time.Minute)
	require.True(t, ok)

	status, err = manager.WithLock(ctx, "FEEDBACK_DELETE", time.Minute, func(context.Context) error {
		calls++
		return nil
	})
	require.Equal(t, lock.StatusHeld, status)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(quartz.NewMock(t)))

	require.Panics(t, func() {
		_, _ = manager.WithLock(ctx, "FEEDBACK_DELETE", time.Minute, func(context.Context) error {
			panic("boom")
		})
	})

	_, ok := manager.TryLock(ctx, "FEEDBACK_DELETE", time.Minute)
	require.True(t, ok)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	mClock := quartz.NewMock(t)
	manager := lock.NewManager(lock.NewMemoryStore(), lock.WithClock(mClock))

	_, ok := manager.TryLock(ctx, "STATS_AGGREGATE:1", time.Minute)
	require.True(t, ok)

	mClock.Advance(time.Hour).MustWait(ctx)
	_, ok = manager.TryLock(ctx, "STATS_AGGREGATE:2", time.Minute)
	require.True(t, ok)

	count, err := manager.Purge(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	leases, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, "STATS_AGGREGATE:2", leases[0].Name)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "acquired", lock.StatusAcquired.String())
	require.Equal(t, "held", lock.StatusHeld.String())
	require.Equal(t, "store_error", lock.StatusStoreError.String())
}

func TestExpiredAgreesWithStore(t *testing.T) {
	ctx := context.Background()
	store := lock.NewMemoryStore()
	heldUntil := time.Date(2025, time.June, 1, 3, 5, 0, 0, time.UTC)
	lease := lock.Lease{Name: "FEEDBACK_DELETE", Token: "a", HeldUntil: heldUntil}

	ok, err := store.TryAcquire(ctx, lease, heldUntil.Add(-5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	// Still held at the HeldUntil instant.
	require.False(t, lease.Expired(heldUntil))
	ok, err = store.TryAcquire(ctx, lock.Lease{Name: lease.Name, Token: "b", HeldUntil: heldUntil.Add(time.Minute)}, heldUntil)
	require.NoError(t, err)
	require.False(t, ok)

	later := heldUntil.Add(time.Nanosecond)
	require.True(t, lease.Expired(later))
	ok, err = store.TryAcquire(ctx, lock.Lease{Name: lease.Name, Token: "b", HeldUntil: later.Add(time.Minute)}, later)
	require.NoError(t, err)
	require.True(t, ok)
}
