// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package store provides read access to projects, channels and retention
// settings, and access to the raw feedback events.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrProjectNotFound is an error, which is returned when a project does not
// exist or has been deleted.
var ErrProjectNotFound = errors.New("project not found")

// ErrNoTenant is an error, which is returned when no tenant row exists.
var ErrNoTenant = errors.New("tenant not found")

// ProjectScheduleFact provides the project data needed to schedule its
// aggregation job.
type ProjectScheduleFact struct {
	// ID is the project id.
	ID uint64

	// TimezoneOffset is the UTC offset of the project in `+HH:MM' or
	// `-HH:MM' form. It may be empty.
	TimezoneOffset string
}

// RetentionPolicy is the tenant-wide feedback retention policy.
type RetentionPolicy struct {
	// Enabled specifies whether feedback is purged at all.
	Enabled bool

	// PeriodDays is the number of days feedback is kept for.
	PeriodDays int
}

// Directory provides the active projects and their channels.
type Directory interface {
	// ListActiveProjects returns the projects, which have not been
	// deleted.
	ListActiveProjects(ctx context.Context) ([]ProjectScheduleFact, error)

	// GetProject returns the active project with the given id, or
	// [ErrProjectNotFound].
	GetProject(ctx context.Context, projectID uint64) (ProjectScheduleFact, error)

	// ListChannels returns the ids of the channels of a project.
	ListChannels(ctx context.Context, projectID uint64) ([]uint64, error)
}

// EventStore provides access to the raw feedback events.
type EventStore interface {
	// CountEvents returns the number of events of the channel created in
	// [from, to).
	CountEvents(ctx context.Context, channelID uint64, from, to time.Time) (int64, error)

	// ListEventsOlderThan returns up to limit ids of events of the
	// channel created strictly before cutoff.
	ListEventsOlderThan(ctx context.Context, channelID uint64, cutoff time.Time, limit int) ([]uint64, error)

	// DeleteEvents deletes the events of the channel with the given ids
	// and returns the number of deleted events.
	DeleteEvents(ctx context.Context, channelID uint64, ids []uint64) (int64, error)
}

// RetentionConfig provides the tenant-wide retention policy.
type RetentionConfig interface {
	// GetRetentionPolicy returns the retention policy, or [ErrNoTenant].
	GetRetentionPolicy(ctx context.Context) (RetentionPolicy, error)
}
