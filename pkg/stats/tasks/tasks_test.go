// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tasks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/rollup/pkg/core/registry"
	"github.com/feedbackhub/rollup/pkg/stats/tasks"
	asynqutils "github.com/feedbackhub/rollup/pkg/utils/asynq"
)

func TestNewAggregateTask(t *testing.T) {
	_, err := tasks.NewAggregateTask(tasks.AggregatePayload{})
	require.ErrorIs(t, err, tasks.ErrNoProjectID)

	task, err := tasks.NewAggregateTask(tasks.AggregatePayload{ProjectID: 42, Days: 7, TTL: time.Minute})
	require.NoError(t, err)
	require.Equal(t, tasks.AggregateTaskType, task.Type())

	var payload tasks.AggregatePayload
	require.NoError(t, asynqutils.Unmarshal(task.Payload(), &payload))
	require.Equal(t, uint64(42), payload.ProjectID)
	require.Equal(t, 7, payload.Days)
	require.Equal(t, time.Minute, payload.TTL)
}

func TestHandleAggregateTaskInvalidPayload(t *testing.T) {
	testCases := []struct {
		desc    string
		payload string
	}{
		{desc: "malformed", payload: "project_id: [\n"},
		{desc: "missing project", payload: `{"days": 3}`},
		{desc: "yaml without project", payload: "days: 3\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			task := asynq.NewTask(tasks.AggregateTaskType, []byte(tc.payload))
			err := tasks.HandleAggregateTask(context.Background(), task)
			require.True(t, errors.Is(err, asynq.SkipRetry), "got %v", err)
		})
	}
}

func TestAggregateTaskRegistered(t *testing.T) {
	require.True(t, registry.TaskRegistry.Exists(tasks.AggregateTaskType))
}
