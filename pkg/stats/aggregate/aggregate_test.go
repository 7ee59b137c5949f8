// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package aggregate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
	"github.com/feedbackhub/rollup/pkg/lock"
	"github.com/feedbackhub/rollup/pkg/stats/aggregate"
	statsstore "github.com/feedbackhub/rollup/pkg/stats/store"
)

// now is 10 minutes past midnight on 2024-03-10 UTC.
var now = time.Date(2024, time.March, 10, 0, 10, 0, 0, time.UTC)

var yesterday = time.Date(2024, time.March, 9, 0, 0, 0, 0, time.UTC)

type fixture struct {
	feedback *store.MemoryStore
	stats    *statsstore.MemoryStore
	job      *aggregate.Job
}

func newFixture(t *testing.T, opts ...aggregate.Option) *fixture {
	t.Helper()

	clock := quartz.NewMock(t)
	clock.Set(now)

	f := &fixture{
		feedback: store.NewMemoryStore(),
		stats:    statsstore.NewMemoryStore(),
	}
	opts = append([]aggregate.Option{aggregate.WithClock(clock)}, opts...)
	f.job = aggregate.New(f.feedback, f.feedback, f.stats, opts...)

	return f
}

func TestWindows(t *testing.T) {
	testCases := []struct {
		desc     string
		now      time.Time
		offset   time.Duration
		wantDate time.Time
		wantFrom time.Time
	}{
		{
			desc:     "utc",
			now:      now,
			offset:   0,
			wantDate: yesterday,
			wantFrom: yesterday,
		},
		{
			desc:     "positive offset at local midnight",
			now:      time.Date(2024, time.March, 10, 15, 0, 0, 0, time.UTC),
			offset:   9 * time.Hour,
			wantDate: time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC),
			wantFrom: time.Date(2024, time.March, 9, 15, 0, 0, 0, time.UTC),
		},
		{
			desc:     "negative offset with minutes at local midnight",
			now:      time.Date(2024, time.March, 10, 5, 30, 0, 0, time.UTC),
			offset:   -(5*time.Hour + 30*time.Minute),
			wantDate: yesterday,
			wantFrom: time.Date(2024, time.March, 9, 5, 30, 0, 0, time.UTC),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			windows := aggregate.Windows(tc.now, tc.offset, 1)
			require.Len(t, windows, 1)
			require.Equal(t, tc.wantDate, windows[0].Date)
			require.Equal(t, tc.wantFrom, windows[0].From)
			require.Equal(t, tc.wantFrom.Add(24*time.Hour), windows[0].To)
		})
	}
}

func TestWindowsBackfill(t *testing.T) {
	windows := aggregate.Windows(now, 0, 3)
	require.Len(t, windows, 3)
	require.Equal(t, yesterday, windows[0].Date)
	require.Equal(t, yesterday.AddDate(0, 0, -1), windows[1].Date)
	require.Equal(t, yesterday.AddDate(0, 0, -2), windows[2].Date)
}

func TestRunIsAdditive(t *testing.T) {
	f := newFixture(t)
	f.feedback.PutProject(store.ProjectScheduleFact{ID: 1, TimezoneOffset: "+00:00"}, 10)
	for i := range 3 {
		f.feedback.AddEvent(10, yesterday.Add(time.Duration(i)*time.Hour))
	}

	ctx := context.Background()
	result, err := f.job.Run(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, jobs.Processed(1), result)

	count, ok := f.stats.Get(10, yesterday)
	require.True(t, ok)
	require.Equal(t, int64(3), count)

	// Running the same window again adds instead of overwriting.
	_, err = f.job.Run(ctx, 1)
	require.NoError(t, err)
	count, _ = f.stats.Get(10, yesterday)
	require.Equal(t, int64(6), count)
}

func TestRunUnderLeaseExcludesConcurrentRun(t *testing.T) {
	f := newFixture(t)
	f.feedback.PutProject(store.ProjectScheduleFact{ID: 1, TimezoneOffset: "+00:00"}, 10)
	for i := range 3 {
		f.feedback.AddEvent(10, yesterday.Add(time.Duration(i)*time.Minute))
	}

	ctx := context.Background()
	manager := lock.NewManager(lock.NewMemoryStore())
	name := jobs.AggregateLockName(1)
	run := func(ctx context.Context) error {
		_, err := f.job.Run(ctx, 1)
		return err
	}

	status, err := manager.WithLock(ctx, name, time.Minute, func(ctx context.Context) error {
		// A second replica firing while the first one runs.
		status, err := manager.WithLock(ctx, name, time.Minute, run)
		require.NoError(t, err)
		require.Equal(t, lock.StatusHeld, status)

		return run(ctx)
	})
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, status)

	count, ok := f.stats.Get(10, yesterday)
	require.True(t, ok)
	require.Equal(t, int64(3), count)
}

func TestRunSuppressesZeroCounts(t *testing.T) {
	f := newFixture(t)
	f.feedback.PutProject(store.ProjectScheduleFact{ID: 1, TimezoneOffset: "+00:00"}, 10, 11)
	f.feedback.AddEvent(10, yesterday)

	// Outside of the window
	f.feedback.AddEvent(11, yesterday.Add(-time.Nanosecond))
	f.feedback.AddEvent(11, yesterday.Add(24*time.Hour))

	result, err := f.job.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Count)

	_, ok := f.stats.Get(11, yesterday)
	require.False(t, ok)
	require.Equal(t, 1, f.stats.Len())
}

func TestRunIsolatesChannelFailures(t *testing.T) {
	f := newFixture(t)
	f.feedback.PutProject(store.ProjectScheduleFact{ID: 1, TimezoneOffset: "+00:00"}, 10, 11)
	f.feedback.AddEvent(10, yesterday)
	f.feedback.AddEvent(11, yesterday)
	f.feedback.AddEvent(11, yesterday.Add(time.Hour))

	errBroken := errors.New("broken channel")
	f.feedback.FailChannels[10] = errBroken

	result, err := f.job.Run(context.Background(), 1)
	require.ErrorIs(t, err, errBroken)
	require.Equal(t, jobs.StatusProcessed, result.Status)
	require.Equal(t, int64(1), result.Count)

	count, ok := f.stats.Get(11, yesterday)
	require.True(t, ok)
	require.Equal(t, int64(2), count)

	_, ok = f.stats.Get(10, yesterday)
	require.False(t, ok)
}

func TestRunUsesLocalDay(t *testing.T) {
	f := newFixture(t)
	f.feedback.PutProject(store.ProjectScheduleFact{ID: 1, TimezoneOffset: "-05:00"}, 10)

	// At now the local day is still 2024-03-09, so the previous local day
	// spans [2024-03-08T05:00Z, 2024-03-09T05:00Z).
	localDay := time.Date(2024, time.March, 8, 5, 0, 0, 0, time.UTC)
	f.feedback.AddEvent(10, localDay)
	f.feedback.AddEvent(10, localDay.Add(24*time.Hour-time.Millisecond))
	f.feedback.AddEvent(10, localDay.Add(24*time.Hour))

	result, err := f.job.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Count)

	count, ok := f.stats.Get(10, time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, int64(2), count)
}

func TestRunDaysToCreate(t *testing.T) {
	f := newFixture(t, aggregate.WithDaysToCreate(3))
	f.feedback.PutProject(store.ProjectScheduleFact{ID: 1, TimezoneOffset: "+00:00"}, 10)
	for day := 1; day <= 4; day++ {
		f.feedback.AddEvent(10, now.AddDate(0, 0, -day))
	}

	result, err := f.job.Run(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), result.Count)
	require.Equal(t, 3, f.stats.Len())

	_, err = f.job.RunDays(context.Background(), 1, 0)
	require.ErrorIs(t, err, aggregate.ErrInvalidDays)
}

func TestRunSkips(t *testing.T) {
	testCases := []struct {
		desc    string
		project *store.ProjectScheduleFact
		reason  string
	}{
		{
			desc:    "missing project",
			project: nil,
			reason:  "project not found",
		},
		{
			desc:    "missing offset",
			project: &store.ProjectScheduleFact{ID: 1},
			reason:  "missing timezone offset",
		},
		{
			desc:    "invalid offset",
			project: &store.ProjectScheduleFact{ID: 1, TimezoneOffset: "UTC+1"},
			reason:  "invalid timezone offset",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture(t)
			if tc.project != nil {
				f.feedback.PutProject(*tc.project, 10)
				f.feedback.AddEvent(10, yesterday)
			}

			result, err := f.job.Run(context.Background(), 1)
			require.NoError(t, err)
			require.Equal(t, jobs.Skipped(tc.reason), result)
			require.Equal(t, 0, f.stats.Len())
		})
	}
}
