// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lock

import (
	"github.com/feedbackhub/rollup/pkg/lock"
)

// Manager is the [lock.Manager] used by workers to guard on-demand jobs with
// the same leases as the scheduler.
var Manager *lock.Manager

// SetManager shall be invoked from cli commands to set the lock manager for
// the workers.
func SetManager(m *lock.Manager) {
	Manager = m
}
