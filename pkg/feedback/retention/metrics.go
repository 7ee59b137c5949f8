// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package retention

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedbackhub/rollup/pkg/metrics"
)

var (
	// deletedFeedbackDesc is the descriptor for a metric, which tracks the
	// number of feedback records deleted by the latest retention run.
	deletedFeedbackDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "retention_deleted_feedback"),
		"Gauge which tracks the number of feedback records deleted by the latest retention run",
		nil,
		nil,
	)

	// channelErrorsDesc is the descriptor for a metric, which tracks the
	// number of channels which failed during the latest retention run.
	channelErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "retention_channel_errors"),
		"Gauge which tracks the number of failed channels in the latest retention run",
		nil,
		nil,
	)
)

// init registers the metric descriptors with the [metrics.DefaultCollector]
func init() {
	metrics.DefaultCollector.AddDesc(
		deletedFeedbackDesc,
		channelErrorsDesc,
	)
}
