// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	auxtasks "github.com/feedbackhub/rollup/pkg/auxiliary/tasks"
	"github.com/feedbackhub/rollup/pkg/core/config"
)

// queueNameFlag returns the flag for selecting the queue to operate on.
func queueNameFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "queue",
		Usage:   "queue name",
		Value:   config.DefaultQueueName,
		Aliases: []string{"name"},
	}
}

// NewQueueCommand returns a new command for interfacing with the queues.
func NewQueueCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "queue",
		Usage:   "queue operations",
		Aliases: []string{"q"},
		Before: func(ctx *cli.Context) error {
			return validateRedisConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list queues",
				Aliases: []string{"ls"},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck
					queues, err := inspector.Queues()
					if err != nil {
						return err
					}

					if len(queues) == 0 {
						return nil
					}

					table := newTableWriter(os.Stdout, []string{"NAME"})
					for _, item := range queues {
						if err := table.Append([]string{item}); err != nil {
							return err
						}
					}

					return table.Render()
				},
			},
			{
				Name:    "info",
				Usage:   "get queue info",
				Aliases: []string{"i"},
				Flags:   []cli.Flag{queueNameFlag()},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck
					q, err := inspector.GetQueueInfo(ctx.String("queue"))
					if err != nil {
						return err
					}

					fmt.Printf("%-20s: %s\n", "Name", q.Queue)
					fmt.Printf("%-20s: %d\n", "Memory Usage", q.MemoryUsage)
					fmt.Printf("%-20s: %s\n", "Latency", q.Latency.String())
					fmt.Printf("%-20s: %d\n", "Size", q.Size)
					fmt.Printf("%-20s: %d\n", "Pending", q.Pending)
					fmt.Printf("%-20s: %d\n", "Active", q.Active)
					fmt.Printf("%-20s: %d\n", "Scheduled", q.Scheduled)
					fmt.Printf("%-20s: %d\n", "Retry", q.Retry)
					fmt.Printf("%-20s: %d\n", "Archived", q.Archived)
					fmt.Printf("%-20s: %d\n", "Completed", q.Completed)
					fmt.Printf("%-20s: %d\n", "Processed (daily)", q.Processed)
					fmt.Printf("%-20s: %d\n", "Failed (daily)", q.Failed)
					fmt.Printf("%-20s: %v\n", "Paused", q.Paused)

					return nil
				},
			},
			{
				Name:    "pause",
				Usage:   "pause a queue",
				Aliases: []string{"p"},
				Flags:   []cli.Flag{queueNameFlag()},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck

					return inspector.PauseQueue(ctx.String("queue"))
				},
			},
			{
				Name:    "resume",
				Usage:   "resume a queue",
				Aliases: []string{"r"},
				Flags:   []cli.Flag{queueNameFlag()},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck

					return inspector.UnpauseQueue(ctx.String("queue"))
				},
			},
			{
				Name:    "drain",
				Usage:   "drain queue messages",
				Aliases: []string{"d"},
				Flags: []cli.Flag{
					queueNameFlag(),
					&cli.StringFlag{
						Name:  "type",
						Usage: "message type to drain",
						Value: "scheduled",
					},
				},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck

					typeToFunc := map[string]func(queue string) (int, error){
						"scheduled": inspector.DeleteAllScheduledTasks,
						"pending":   inspector.DeleteAllPendingTasks,
						"archived":  inspector.DeleteAllArchivedTasks,
						"completed": inspector.DeleteAllCompletedTasks,
						"retry":     inspector.DeleteAllRetryTasks,
					}

					messageType := ctx.String("type")
					deleteFunc, ok := typeToFunc[messageType]
					if !ok {
						messageTypes := make([]string, 0, len(typeToFunc))
						for k := range typeToFunc {
							messageTypes = append(messageTypes, k)
						}
						slices.Sort(messageTypes)
						return fmt.Errorf("message type should be one of %s", strings.Join(messageTypes, ", "))
					}

					count, err := deleteFunc(ctx.String("queue"))
					if err != nil {
						return err
					}

					fmt.Printf("deleted %d %s task(s)\n", count, messageType)
					return nil
				},
			},
			{
				Name:  "clean",
				Usage: "submit tasks deleting the archived and completed tasks of a queue",
				Flags: []cli.Flag{
					queueNameFlag(),
					&cli.StringFlag{
						Name:  "via",
						Usage: "queue on which the cleanup tasks are submitted",
						Value: config.DefaultQueueName,
					},
				},
				Action: func(ctx *cli.Context) error {
					client := newAsynqClient(getConfig(ctx))
					defer client.Close() // nolint: errcheck

					taskTypes := []string{
						auxtasks.DeleteArchivedTaskType,
						auxtasks.DeleteCompletedTaskType,
					}
					for _, taskType := range taskTypes {
						task, err := auxtasks.NewDeleteQueueTask(taskType, ctx.String("queue"))
						if err != nil {
							return err
						}

						info, err := client.EnqueueContext(ctx.Context, task, asynq.Queue(ctx.String("via")))
						if err != nil {
							return fmt.Errorf("cannot enqueue %q task: %w", taskType, err)
						}
						fmt.Printf("%s/%s\n", info.Queue, info.ID)
					}

					return nil
				},
			},
		},
	}

	return cmd
}
