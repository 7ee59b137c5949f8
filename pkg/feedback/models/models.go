// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package models provides the models of the feedback management system,
// which are read by the scheduled jobs.
//
// The tables are owned by the administration service. The only rows the
// jobs ever write to are feedback rows, which the retention job deletes.
package models

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/feedbackhub/rollup/pkg/core/registry"
)

// Tenant represents the single tenant of a deployment.
type Tenant struct {
	bun.BaseModel `bun:"table:tenant"`

	ID                          uint64 `bun:"id,pk,autoincrement"`
	FeedbackRetentionEnabled    bool   `bun:"feedback_retention_enabled,notnull"`
	FeedbackRetentionPeriodDays int    `bun:"feedback_retention_period_days,nullzero"`
}

// Project represents a project of the tenant.
type Project struct {
	bun.BaseModel `bun:"table:projects"`

	ID             uint64     `bun:"id,pk,autoincrement"`
	Name           string     `bun:"name,nullzero"`
	TimezoneOffset string     `bun:"timezone_offset,nullzero"`
	DeletedAt      *time.Time `bun:"deleted_at,nullzero"`
}

// Channel represents a feedback channel of a project.
type Channel struct {
	bun.BaseModel `bun:"table:channels"`

	ID        uint64 `bun:"id,pk,autoincrement"`
	ProjectID uint64 `bun:"project_id,notnull"`
	Name      string `bun:"name,nullzero"`
}

// Feedback represents a single raw feedback event.
type Feedback struct {
	bun.BaseModel `bun:"table:feedbacks"`

	ID        uint64    `bun:"id,pk,autoincrement"`
	ChannelID uint64    `bun:"channel_id,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func init() {
	registry.ModelRegistry.MustRegister("feedback:model:tenant", &Tenant{})
	registry.ModelRegistry.MustRegister("feedback:model:project", &Project{})
	registry.ModelRegistry.MustRegister("feedback:model:channel", &Channel{})
	registry.ModelRegistry.MustRegister("feedback:model:feedback", &Feedback{})
}
