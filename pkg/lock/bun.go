// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/feedbackhub/rollup/pkg/core/registry"
)

// Record represents a lease as stored in the database.
type Record struct {
	bun.BaseModel `bun:"table:scheduler_lock"`

	Name        string    `bun:"name,pk"`
	HolderToken string    `bun:"holder_token,notnull"`
	HeldUntil   time.Time `bun:"held_until,notnull"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// BunStore is a [Store], which keeps leases in the shared database.
type BunStore struct {
	db bun.IDB
}

var _ Store = &BunStore{}

// NewBunStore creates a new [BunStore] using the given database.
func NewBunStore(db bun.IDB) *BunStore {
	return &BunStore{db: db}
}

// TryAcquire implements the [Store] interface.
//
// The acquisition is a single conditional upsert, which inserts the lease
// row, or overwrites it only when the existing lease has expired. Postgres
// serializes concurrent upserts on the same key, so at most one of them
// affects a row.
func (s *BunStore) TryAcquire(ctx context.Context, lease Lease, now time.Time) (bool, error) {
	rec := &Record{
		Name:        lease.Name,
		HolderToken: lease.Token,
		HeldUntil:   lease.HeldUntil,
		UpdatedAt:   now,
	}

	out, err := s.db.NewInsert().
		Model(rec).
		On("CONFLICT (name) DO UPDATE").
		Set("holder_token = EXCLUDED.holder_token").
		Set("held_until = EXCLUDED.held_until").
		Set("updated_at = EXCLUDED.updated_at").
		Where("?TableAlias.held_until < ?", now).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	count, err := out.RowsAffected()
	if err != nil {
		return false, err
	}

	return count == 1, nil
}

// Release implements the [Store] interface.
func (s *BunStore) Release(ctx context.Context, name, token string) (bool, error) {
	out, err := s.db.NewDelete().
		Model((*Record)(nil)).
		Where("name = ?", name).
		Where("holder_token = ?", token).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	count, err := out.RowsAffected()
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// List implements the [Store] interface.
func (s *BunStore) List(ctx context.Context) ([]Lease, error) {
	records := make([]Record, 0)
	err := s.db.NewSelect().
		Model(&records).
		Order("name").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	leases := make([]Lease, 0, len(records))
	for _, rec := range records {
		lease := Lease{
			Name:      rec.Name,
			Token:     rec.HolderToken,
			HeldUntil: rec.HeldUntil,
		}
		leases = append(leases, lease)
	}

	return leases, nil
}

// Purge implements the [Store] interface.
func (s *BunStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	out, err := s.db.NewDelete().
		Model((*Record)(nil)).
		Where("held_until < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	return out.RowsAffected()
}

func init() {
	registry.ModelRegistry.MustRegister("lock:model:scheduler_lock", &Record{})
}
