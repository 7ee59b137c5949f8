// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	_ "github.com/feedbackhub/rollup/pkg/auxiliary/tasks"
	_ "github.com/feedbackhub/rollup/pkg/feedback/models"
	_ "github.com/feedbackhub/rollup/pkg/feedback/tasks"
	_ "github.com/feedbackhub/rollup/pkg/jobs/models"
	_ "github.com/feedbackhub/rollup/pkg/stats/models"
	_ "github.com/feedbackhub/rollup/pkg/stats/tasks"
)
