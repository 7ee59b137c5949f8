// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/uptrace/bun"

	coremodels "github.com/feedbackhub/rollup/pkg/core/models"
	"github.com/feedbackhub/rollup/pkg/core/registry"
)

// FeedbackStatistic represents the number of feedback created in a channel
// on a single calendar day of the project timezone.
type FeedbackStatistic struct {
	bun.BaseModel `bun:"table:feedback_statistics"`
	coremodels.Model

	ChannelID uint64    `bun:"channel_id,notnull,unique:feedback_statistics_key"`
	Date      time.Time `bun:"date,type:date,notnull,unique:feedback_statistics_key"`
	Count     int64     `bun:"count,notnull"`
}

func init() {
	registry.ModelRegistry.MustRegister("stats:model:feedback_statistic", &FeedbackStatistic{})
}
