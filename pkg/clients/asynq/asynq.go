// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package asynq

import (
	"github.com/hibiken/asynq"
)

// Client is the [asynq.Client] used for enqueueing on-demand tasks.
var Client *asynq.Client

// Inspector is the [asynq.Inspector] used for inspecting queues.
var Inspector *asynq.Inspector

// SetClient shall be invoked from cli commands to set the asynq client.
func SetClient(c *asynq.Client) {
	Client = c
}

// SetInspector shall be invoked from cli commands to set the asynq inspector.
func SetInspector(i *asynq.Inspector) {
	Inspector = i
}
