// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/rollup/pkg/feedback/retention"
	"github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/jobs"
)

var now = time.Date(2024, time.May, 31, 3, 0, 0, 0, time.UTC)

func newJob(t *testing.T, s *store.MemoryStore, opts ...retention.Option) *retention.Job {
	t.Helper()

	clock := quartz.NewMock(t)
	clock.Set(now)
	opts = append([]retention.Option{retention.WithClock(clock)}, opts...)

	return retention.New(s, s, s, opts...)
}

func TestCutoff(t *testing.T) {
	want := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, want, retention.Cutoff(now, 30))
	require.Equal(t, want, retention.Cutoff(time.Date(2024, time.May, 31, 23, 59, 59, 0, time.UTC), 30))
}

func TestRunCutoffBoundary(t *testing.T) {
	s := store.NewMemoryStore()
	s.SetRetentionPolicy(store.RetentionPolicy{Enabled: true, PeriodDays: 30})
	s.PutProject(store.ProjectScheduleFact{ID: 1, TimezoneOffset: "+00:00"}, 10)

	cutoff := retention.Cutoff(now, 30)
	atCutoff := s.AddEvent(10, cutoff)
	older := s.AddEvent(10, cutoff.Add(-time.Millisecond))
	recent := s.AddEvent(10, now)

	result, err := newJob(t, s).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobs.Processed(1), result)

	require.True(t, s.HasEvent(10, atCutoff))
	require.True(t, s.HasEvent(10, recent))
	require.False(t, s.HasEvent(10, older))
}

func TestRunPages(t *testing.T) {
	s := store.NewMemoryStore()
	s.SetRetentionPolicy(store.RetentionPolicy{Enabled: true, PeriodDays: 7})
	s.PutProject(store.ProjectScheduleFact{ID: 1}, 10, 11)
	s.PutProject(store.ProjectScheduleFact{ID: 2}, 20)

	old := now.AddDate(0, -1, 0)
	for range 7 {
		s.AddEvent(10, old)
	}
	for range 3 {
		s.AddEvent(20, old)
	}
	s.AddEvent(11, now)

	result, err := newJob(t, s, retention.WithPageSize(2)).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), result.Count)
	require.Equal(t, 0, s.EventCount(10))
	require.Equal(t, 0, s.EventCount(20))
	require.Equal(t, 1, s.EventCount(11))
}

func TestRunIsolatesChannelFailures(t *testing.T) {
	s := store.NewMemoryStore()
	s.SetRetentionPolicy(store.RetentionPolicy{Enabled: true, PeriodDays: 1})
	s.PutProject(store.ProjectScheduleFact{ID: 1}, 10, 11)

	old := now.AddDate(0, 0, -10)
	s.AddEvent(10, old)
	s.AddEvent(11, old)

	errBroken := errors.New("broken channel")
	s.FailChannels[10] = errBroken

	result, err := newJob(t, s).Run(context.Background())
	require.ErrorIs(t, err, errBroken)
	require.Equal(t, int64(1), result.Count)
	require.Equal(t, 1, s.EventCount(10))
	require.Equal(t, 0, s.EventCount(11))
}

func TestRunSkips(t *testing.T) {
	testCases := []struct {
		desc     string
		policy   *store.RetentionPolicy
		projects bool
		reason   string
	}{
		{
			desc:     "no tenant",
			policy:   nil,
			projects: true,
			reason:   "no tenant",
		},
		{
			desc:     "disabled",
			policy:   &store.RetentionPolicy{Enabled: false, PeriodDays: 30},
			projects: true,
			reason:   "retention disabled",
		},
		{
			desc:     "zero period",
			policy:   &store.RetentionPolicy{Enabled: true, PeriodDays: 0},
			projects: true,
			reason:   "invalid retention period",
		},
		{
			desc:     "negative period",
			policy:   &store.RetentionPolicy{Enabled: true, PeriodDays: -3},
			projects: true,
			reason:   "invalid retention period",
		},
		{
			desc:     "no projects",
			policy:   &store.RetentionPolicy{Enabled: true, PeriodDays: 30},
			projects: false,
			reason:   "no projects",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			s := store.NewMemoryStore()
			if tc.policy != nil {
				s.SetRetentionPolicy(*tc.policy)
			}
			if tc.projects {
				s.PutProject(store.ProjectScheduleFact{ID: 1}, 10)
			}
			s.AddEvent(10, now.AddDate(-1, 0, 0))

			result, err := newJob(t, s).Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, jobs.Skipped(tc.reason), result)
			require.Equal(t, 1, s.EventCount(10))
		})
	}
}
