// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package lock provides a lease-based distributed mutex, which is shared by
// all replicas through a common [Store].
//
// A lease is held until it is released by its holder, or until its TTL
// elapses. The TTL makes the lock crash-safe: a replica which dies while
// holding a lease blocks the other replicas at most until the lease
// expires.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/feedbackhub/rollup/pkg/metrics"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

// ErrEmptyName is an error, which is returned when a lease is requested
// without a name.
var ErrEmptyName = errors.New("empty lock name")

// ErrInvalidTTL is an error, which is returned when a lease is requested
// with a non-positive TTL.
var ErrInvalidTTL = errors.New("invalid lock ttl")

// releaseTimeout bounds the time spent on releasing a lease.
const releaseTimeout = 10 * time.Second

// Status is the outcome of an acquisition attempt.
type Status int

const (
	// StatusAcquired means that the caller holds the lease.
	StatusAcquired Status = iota

	// StatusHeld means that another holder has an unexpired lease.
	StatusHeld

	// StatusStoreError means that the lock store failed. Callers must
	// treat it as if the lease was not acquired.
	StatusStoreError
)

// String implements the [fmt.Stringer] interface.
func (s Status) String() string {
	switch s {
	case StatusAcquired:
		return "acquired"
	case StatusHeld:
		return "held"
	case StatusStoreError:
		return "store_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Lease represents a held lease on a named resource.
type Lease struct {
	// Name identifies the logical job guarded by the lease.
	Name string

	// Token identifies the acquisition attempt, which created the
	// lease. Only the holder of the token may release the lease.
	Token string

	// HeldUntil is the time at which the lease expires.
	HeldUntil time.Time
}

// Expired returns true, if the lease has expired at the given time. A lease
// is still held at the HeldUntil instant, so that Expired agrees with
// [Store.TryAcquire].
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.HeldUntil)
}

// Store is the durable storage of leases, which is shared by all replicas.
type Store interface {
	// TryAcquire creates the lease, or takes over an existing lease with
	// the same name whose HeldUntil is before now. The check and the
	// write must be a single atomic operation. It returns false, if an
	// unexpired lease exists.
	TryAcquire(ctx context.Context, lease Lease, now time.Time) (bool, error)

	// Release deletes the lease with the given name, if it is still held
	// by the given token. It returns false, if there was nothing to
	// delete.
	Release(ctx context.Context, name, token string) (bool, error)

	// List returns all leases known to the store, including expired
	// ones.
	List(ctx context.Context) ([]Lease, error)

	// Purge deletes the leases, which expired before the given time, and
	// returns the number of deleted leases.
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Manager hands out leases from a [Store].
type Manager struct {
	store    Store
	clock    quartz.Clock
	newToken func() string
}

// Option is a function, which configures the [Manager].
type Option func(m *Manager)

// WithClock is an [Option], which configures the [Manager] to use the given
// clock.
func WithClock(clock quartz.Clock) Option {
	opt := func(m *Manager) {
		m.clock = clock
	}

	return opt
}

// WithTokenFunc is an [Option], which configures the function used for
// generating holder tokens.
func WithTokenFunc(f func() string) Option {
	opt := func(m *Manager) {
		m.newToken = f
	}

	return opt
}

// NewManager creates a new [Manager] backed by the given [Store].
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		clock:    quartz.NewReal(),
		newToken: uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Acquire attempts to acquire the lease with the given name for ttl. The
// returned [Lease] is valid only when the status is [StatusAcquired].
//
// Acquire never returns an error: a failing store is reported as
// [StatusStoreError], so that an infrastructure failure results in a
// skipped tick instead of a crashed scheduler.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, Status) {
	logger := asynqutils.GetLogger(ctx)
	status, lease, err := m.acquire(ctx, name, ttl)
	metrics.LockAcquireTotal.WithLabelValues(name, status.String()).Inc()

	switch status {
	case StatusAcquired:
		logger.Debug("lease acquired", "lock_name", name, "held_until", lease.HeldUntil)
	case StatusHeld:
		logger.Debug("lease held elsewhere", "lock_name", name)
	case StatusStoreError:
		logger.Error("failed to acquire lease", "lock_name", name, "reason", err)
	}

	return lease, status
}

func (m *Manager) acquire(ctx context.Context, name string, ttl time.Duration) (Status, Lease, error) {
	if name == "" {
		return StatusStoreError, Lease{}, ErrEmptyName
	}

	if ttl <= 0 {
		return StatusStoreError, Lease{}, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}

	now := m.clock.Now()
	lease := Lease{
		Name:      name,
		Token:     m.newToken(),
		HeldUntil: now.Add(ttl),
	}

	ok, err := m.store.TryAcquire(ctx, lease, now)
	switch {
	case err != nil:
		return StatusStoreError, Lease{}, err
	case !ok:
		return StatusHeld, Lease{}, nil
	default:
		return StatusAcquired, lease, nil
	}
}

// TryLock is the boolean form of [Manager.Acquire]. It returns true only if
// the lease has been acquired.
func (m *Manager) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool) {
	lease, status := m.Acquire(ctx, name, ttl)

	return lease, status == StatusAcquired
}

// Release releases the given lease, so that it becomes immediately
// acquirable. Releasing an expired lease, or a lease which has been taken
// over by another holder, is a no-op. Failures are logged and otherwise
// ignored, since the lease expires on its own.
func (m *Manager) Release(ctx context.Context, lease Lease) {
	logger := asynqutils.GetLogger(ctx)
	if lease.Name == "" || lease.Token == "" {
		return
	}

	// Release even if the job context has been cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	ok, err := m.store.Release(ctx, lease.Name, lease.Token)
	switch {
	case err != nil:
		metrics.LockReleaseFailedTotal.WithLabelValues(lease.Name).Inc()
		logger.Error("failed to release lease", "lock_name", lease.Name, "reason", err)
	case !ok:
		logger.Debug("lease already expired or taken over", "lock_name", lease.Name)
	default:
		logger.Debug("lease released", "lock_name", lease.Name)
	}
}

// WithLock runs fn while holding the lease with the given name. If the
// lease cannot be acquired fn is not called and the acquisition status is
// returned. The lease is released after fn returns or panics.
func (m *Manager) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (Status, error) {
	lease, status := m.Acquire(ctx, name, ttl)
	if status != StatusAcquired {
		return status, nil
	}
	defer m.Release(ctx, lease)

	return status, fn(ctx)
}

// List returns the leases known to the underlying [Store].
func (m *Manager) List(ctx context.Context) ([]Lease, error) {
	return m.store.List(ctx)
}

// Purge deletes the leases, which expired more than the given duration ago.
func (m *Manager) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return m.store.Purge(ctx, m.clock.Now().Add(-olderThan))
}
