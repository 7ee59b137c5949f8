// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package bucket maps feedback counts to labeled time buckets.
//
// Day buckets are labeled with the calendar date. Week and month buckets
// are anchored to the end of the requested window instead of the calendar:
// the label of a bucket is its end boundary, which is found by stepping back
// from the window end in whole weeks or months. Two windows with different
// end dates therefore produce different, but internally consistent, bucket
// boundaries.
package bucket

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/feedbackhub/rollup/pkg/utils"
)

// ErrInvalidInterval is an error, which is returned when an unknown interval
// has been requested.
var ErrInvalidInterval = errors.New("invalid interval")

// DateLayout is the layout of bucket labels.
const DateLayout = "2006-01-02"

// Interval is the size of a bucket.
type Interval string

const (
	// Day buckets cover a single calendar day.
	Day Interval = "day"

	// Week buckets cover seven days ending at the bucket label.
	Week Interval = "week"

	// Month buckets cover one month ending at the bucket label.
	Month Interval = "month"
)

// ParseInterval parses the given interval name.
func ParseInterval(s string) (Interval, error) {
	switch i := Interval(s); i {
	case Day, Week, Month:
		return i, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
}

// Row is a stored day-level count of a channel.
type Row struct {
	ChannelID uint64
	Date      time.Time
	Count     int64
}

// Bucket is the accumulated count of a labeled bucket.
type Bucket struct {
	Label string
	Count int64
}

// Key returns the label of the bucket, which the given timestamp falls into.
// The timestamp is expected to be resolved to the project timezone already,
// its calendar date is used as is. Unknown intervals are treated as [Day].
func Key(ts time.Time, interval Interval, windowEnd time.Time) string {
	return End(ts, interval, windowEnd).Format(DateLayout)
}

// End returns the end boundary of the bucket, which the given timestamp
// falls into, as midnight UTC.
func End(ts time.Time, interval Interval, windowEnd time.Time) time.Time {
	day := dateOf(ts)
	end := dateOf(windowEnd)

	switch interval {
	case Week:
		days := int(end.Sub(day) / (24 * time.Hour))
		weeks := floorDiv(days, 7)

		return end.AddDate(0, 0, -7*weeks)
	case Month:
		months := monthsBetween(day, end)

		return subtractMonths(end, months)
	default:
		return day
	}
}

// Merge groups the given rows by channel and folds them into buckets of the
// given interval. Counts of rows landing in the same bucket are summed and
// the buckets of each channel are ordered by label. The result does not
// depend on the order of the rows.
func Merge(rows []Row, interval Interval, windowEnd time.Time) map[uint64][]Bucket {
	groups := utils.GroupBy(rows, func(r Row) uint64 { return r.ChannelID })
	result := make(map[uint64][]Bucket, len(groups))

	for channelID, items := range groups {
		counts := make(map[string]int64)
		for _, item := range items {
			counts[Key(item.Date, interval, windowEnd)] += item.Count
		}

		buckets := make([]Bucket, 0, len(counts))
		for label, count := range counts {
			buckets = append(buckets, Bucket{Label: label, Count: count})
		}
		sort.Slice(buckets, func(i, j int) bool {
			return buckets[i].Label < buckets[j].Label
		})

		result[channelID] = buckets
	}

	return result
}

// dateOf returns midnight UTC of the calendar date of t in its own
// location.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// floorDiv divides a by b rounding towards negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}

// subtractMonths moves t back by n months. The day is clamped to the last
// day of the target month, e.g. March 31st minus one month is February
// 28th (or 29th).
func subtractMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}

	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// monthsBetween returns the number of whole months separating day from end,
// i.e. the largest n for which end minus n months is not before day.
func monthsBetween(day, end time.Time) int {
	n := (end.Year()-day.Year())*12 + int(end.Month()-day.Month())
	for subtractMonths(end, n).Before(day) {
		n--
	}
	for !subtractMonths(end, n+1).Before(day) {
		n++
	}

	return n
}
