// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package worker provides the asynq worker, which processes the on-demand
// aggregation and retention tasks.
package worker

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/hibiken/asynq"

	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/core/registry"
)

// Option is a function, which configures the [Worker].
type Option func(conf *asynq.Config)

// Worker wraps an [asynq.Server] and [asynq.ServeMux] with additional
// convenience methods for task handlers.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// WithLogLevel is an [Option], which configures the log level of the [Worker].
func WithLogLevel(level asynq.LogLevel) Option {
	opt := func(conf *asynq.Config) {
		conf.LogLevel = level
	}

	return opt
}

// WithErrorHandler is an [Option], which configures the [Worker] to use the
// specified [asynq.ErrorHandler].
func WithErrorHandler(handler asynq.ErrorHandler) Option {
	opt := func(conf *asynq.Config) {
		conf.ErrorHandler = handler
	}

	return opt
}

// WithBaseContext is an [Option], which configures the [Worker] to derive
// the task contexts from the given function.
func WithBaseContext(f func() context.Context) Option {
	opt := func(conf *asynq.Config) {
		conf.BaseContext = f
	}

	return opt
}

// NewFromConfig creates a new [Worker] based on the provided
// [config.WorkerConfig] settings.
func NewFromConfig(r asynq.RedisClientOpt, conf config.WorkerConfig, opts ...Option) *Worker {
	concurrency := conf.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	queues := conf.Queues
	if len(queues) == 0 {
		queues = map[string]int{
			config.DefaultQueueName: 1,
		}
	}

	asynqConfig := asynq.Config{
		Concurrency:    concurrency,
		Queues:         queues,
		StrictPriority: conf.StrictPriority,
	}

	for _, opt := range opts {
		opt(&asynqConfig)
	}

	worker := &Worker{
		server: asynq.NewServer(r, asynqConfig),
		mux:    asynq.NewServeMux(),
	}

	return worker
}

// UseMiddlewares configures the [Worker] multiplexer to use the specified
// [asynq.MiddlewareFunc] middlewares.
func (w *Worker) UseMiddlewares(middlewares ...asynq.MiddlewareFunc) {
	w.mux.Use(middlewares...)
}

// Handle registers the [asynq.Handler] for the given pattern.
func (w *Worker) Handle(pattern string, handler asynq.Handler) {
	w.mux.Handle(pattern, handler)
}

// HandlersFromRegistry registers the task handlers from the given registry.
func (w *Worker) HandlersFromRegistry(logger *slog.Logger, reg *registry.Registry[string, asynq.Handler]) {
	_ = reg.Range(func(name string, handler asynq.Handler) error {
		logger.Info("registering task", "name", name)
		w.Handle(name, handler)

		return nil
	})
}

// Run starts the task processing and blocks until an OS signal to exit the
// program is received.
func (w *Worker) Run() error {
	return w.server.Run(w.mux)
}

// Shutdown gracefully shuts down the worker.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
