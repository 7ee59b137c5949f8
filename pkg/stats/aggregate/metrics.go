// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedbackhub/rollup/pkg/metrics"
)

var (
	// bucketsWrittenDesc is the descriptor for a metric, which tracks the
	// number of statistics buckets written by the latest aggregation run
	// of a project.
	bucketsWrittenDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "aggregation_buckets_written"),
		"Gauge which tracks the number of statistics buckets written by the latest aggregation run",
		[]string{"project_id"},
		nil,
	)

	// channelErrorsDesc is the descriptor for a metric, which tracks the
	// number of channels which failed during the latest aggregation run
	// of a project.
	channelErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(metrics.Namespace, "", "aggregation_channel_errors"),
		"Gauge which tracks the number of failed channels in the latest aggregation run",
		[]string{"project_id"},
		nil,
	)
)

// init registers the metric descriptors with the [metrics.DefaultCollector]
func init() {
	metrics.DefaultCollector.AddDesc(
		bucketsWrittenDesc,
		channelErrorsDesc,
	)
}
