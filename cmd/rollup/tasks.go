// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/urfave/cli/v2"

	auxtasks "github.com/feedbackhub/rollup/pkg/auxiliary/tasks"
	"github.com/feedbackhub/rollup/pkg/core/config"
	"github.com/feedbackhub/rollup/pkg/core/registry"
	feedbacktasks "github.com/feedbackhub/rollup/pkg/feedback/tasks"
	statstasks "github.com/feedbackhub/rollup/pkg/stats/tasks"
)

// defaultTaskTimeout is the timeout of tasks submitted from the command-line.
const defaultTaskTimeout = 30 * time.Minute

// queueFlag returns the flag for selecting a queue.
func queueFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "queue",
		Aliases: []string{"q"},
		Usage:   "name of queue to use",
		Value:   config.DefaultQueueName,
	}
}

// timeoutFlag returns the flag for setting the task timeout.
func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "set timeout for task",
		Value: defaultTaskTimeout,
	}
}

// newListTasksCommand returns a sub-command, which lists the tasks in the
// given state.
func newListTasksCommand(name, alias string, state asynq.TaskState) *cli.Command {
	cmd := &cli.Command{
		Name:    name,
		Usage:   fmt.Sprintf("list %s tasks", state),
		Aliases: []string{alias},
		Flags: []cli.Flag{
			queueFlag(),
			&cli.IntFlag{
				Name:    "page",
				Aliases: []string{"p"},
				Usage:   "page number to retrieve",
				Value:   1,
			},
			&cli.IntFlag{
				Name:    "size",
				Aliases: []string{"s"},
				Usage:   "page size to use",
				Value:   50,
			},
		},
		Action: func(ctx *cli.Context) error {
			return printTasksInState(ctx, state)
		},
	}

	return cmd
}

// NewTaskCommand returns a [cli.Command] for interfacing with task-related
// operations.
func NewTaskCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "task",
		Usage:   "task operations",
		Aliases: []string{"t"},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list registered tasks",
				Aliases: []string{"ls"},
				Action: func(_ *cli.Context) error {
					tasks := registry.TaskRegistry.Keys()
					slices.Sort(tasks)
					for _, task := range tasks {
						fmt.Println(task)
					}

					return nil
				},
			},
			{
				Name:    "aggregate",
				Usage:   "submit a statistics aggregation task for a project",
				Aliases: []string{"agg"},
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:     "project",
						Usage:    "project id",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "days",
						Usage: "number of past local days to aggregate",
					},
					queueFlag(),
					timeoutFlag(),
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					days := conf.Aggregation.DaysToCreate
					if ctx.IsSet("days") {
						days = ctx.Int("days")
					}

					task, err := statstasks.NewAggregateTask(statstasks.AggregatePayload{
						ProjectID: ctx.Uint64("project"),
						Days:      days,
						TTL:       conf.Lock.AggregationTTL,
					})
					if err != nil {
						return err
					}

					return enqueueTask(ctx, task)
				},
			},
			{
				Name:    "retention",
				Usage:   "submit a feedback retention task",
				Aliases: []string{"ret"},
				Flags: []cli.Flag{
					queueFlag(),
					timeoutFlag(),
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					task, err := feedbacktasks.NewRetentionTask(feedbacktasks.RetentionPayload{
						PageSize: conf.Retention.PageSize,
						TTL:      conf.Lock.RetentionTTL,
					})
					if err != nil {
						return err
					}

					return enqueueTask(ctx, task)
				},
			},
			{
				Name:    "housekeeper",
				Usage:   "submit a housekeeper task",
				Aliases: []string{"hk"},
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "job-run-retention",
						Usage: "delete job runs completed before this duration (default from config)",
					},
					queueFlag(),
					timeoutFlag(),
				},
				Action: func(ctx *cli.Context) error {
					conf := getConfig(ctx)
					jobRunRetention := conf.Housekeeper.JobRunRetention
					if ctx.IsSet("job-run-retention") {
						jobRunRetention = ctx.Duration("job-run-retention")
					}
					task, err := auxtasks.NewHousekeeperTask(auxtasks.HousekeeperPayload{
						LockPurgeAfter:  conf.Lock.PurgeAfter,
						JobRunRetention: jobRunRetention,
						TTL:             conf.Lock.HousekeeperTTL,
					})
					if err != nil {
						return err
					}

					return enqueueTask(ctx, task)
				},
			},
			{
				Name:    "enqueue",
				Usage:   "submit a task",
				Aliases: []string{"submit"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "task",
						Aliases:  []string{"t"},
						Usage:    "name of task to enqueue",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "task payload",
					},
					&cli.PathFlag{
						Name:  "payload-file",
						Usage: "path to a payload file",
					},
					queueFlag(),
					timeoutFlag(),
				},
				Action: func(ctx *cli.Context) error {
					var payload []byte
					payloadData := ctx.String("payload")
					payloadFile := ctx.Path("payload-file")
					switch {
					case payloadData != "" && payloadFile != "":
						return fmt.Errorf("cannot use --payload and --payload-file at the same time")
					case payloadData != "":
						payload = []byte(payloadData)
					case payloadFile != "":
						data, err := os.ReadFile(filepath.Clean(payloadFile))
						if err != nil {
							return fmt.Errorf("cannot read payload file: %w", err)
						}
						payload = data
					}

					return enqueueTask(ctx, asynq.NewTask(ctx.String("task"), payload))
				},
			},
			{
				Name:    "cancel",
				Usage:   "cancel a running task",
				Aliases: []string{"c"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
				},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck

					return inspector.CancelProcessing(ctx.String("id"))
				},
			},
			{
				Name:    "delete",
				Usage:   "delete a task",
				Aliases: []string{"d"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
					queueFlag(),
				},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck

					return inspector.DeleteTask(ctx.String("queue"), ctx.String("id"))
				},
			},
			{
				Name:    "inspect",
				Usage:   "inspect a task",
				Aliases: []string{"i"},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "task id",
						Required: true,
					},
					queueFlag(),
				},
				Action: func(ctx *cli.Context) error {
					inspector := newInspector(getConfig(ctx))
					defer inspector.Close() // nolint: errcheck
					info, err := inspector.GetTaskInfo(ctx.String("queue"), ctx.String("id"))
					if err != nil {
						return err
					}

					printTaskInfo(info)
					return nil
				},
			},
			newListTasksCommand("active", "a", asynq.TaskStateActive),
			newListTasksCommand("pending", "p", asynq.TaskStatePending),
			newListTasksCommand("scheduled", "s", asynq.TaskStateScheduled),
			newListTasksCommand("retry", "r", asynq.TaskStateRetry),
			newListTasksCommand("archived", "ar", asynq.TaskStateArchived),
			newListTasksCommand("completed", "co", asynq.TaskStateCompleted),
		},
	}

	return cmd
}

// enqueueTask submits the task using the queue and timeout specified on the
// command-line.
func enqueueTask(ctx *cli.Context, task *asynq.Task) error {
	conf := getConfig(ctx)
	if err := validateRedisConfig(conf); err != nil {
		return err
	}

	client := newAsynqClient(conf)
	defer client.Close() // nolint: errcheck

	opts := []asynq.Option{
		asynq.Queue(ctx.String("queue")),
		asynq.Timeout(ctx.Duration("timeout")),
	}
	info, err := client.EnqueueContext(ctx.Context, task, opts...)
	if err != nil {
		return fmt.Errorf("cannot enqueue %q task: %w", task.Type(), err)
	}

	fmt.Printf("%s/%s\n", info.Queue, info.ID)

	return nil
}

// timeOrNA formats the given time, or returns [na] for the zero time.
func timeOrNA(t time.Time) string {
	if t.IsZero() {
		return na
	}

	return t.String()
}

// bytesOrNil formats the given data, or returns <nil> for empty data.
func bytesOrNil(data []byte) string {
	if data == nil {
		return "<nil>"
	}

	return string(data)
}

// printTaskInfo prints the details about a task.
func printTaskInfo(info *asynq.TaskInfo) {
	fmt.Printf("%-20s: %s\n", "ID", info.ID)
	fmt.Printf("%-20s: %s\n", "Queue", info.Queue)
	fmt.Printf("%-20s: %s\n", "Type/Name", info.Type)
	fmt.Printf("%-20s: %v\n", "State", info.State)
	fmt.Printf("%-20s: %v\n", "Group", info.Group)
	fmt.Printf("%-20s: %v\n", "Is Orphaned", strconv.FormatBool(info.IsOrphaned))
	fmt.Printf("%-20s: %d/%d\n", "Retry", info.Retried, info.MaxRetry)
	fmt.Printf("%-20s: %s\n", "Timeout", info.Timeout.String())
	fmt.Printf("%-20s: %s\n", "Deadline", timeOrNA(info.Deadline))
	fmt.Printf("%-20s: %s\n", "Retention", info.Retention.String())
	fmt.Printf("%-20s: %s\n", "Last Failed At", timeOrNA(info.LastFailedAt))
	fmt.Printf("%-20s: %s\n", "Next Process At", timeOrNA(info.NextProcessAt))
	fmt.Printf("%-20s: %s\n", "Completed At", timeOrNA(info.CompletedAt))

	fmt.Printf("\nLast Error\n")
	fmt.Println("----------")
	fmt.Printf("%s\n", info.LastErr)

	fmt.Printf("\nPayload\n")
	fmt.Println("-------")
	fmt.Printf("%s\n", bytesOrNil(info.Payload))

	fmt.Printf("\nResult\n")
	fmt.Println("------")
	fmt.Printf("%s\n", bytesOrNil(info.Result))
}

// printTasksInState prints the tasks in the given state
func printTasksInState(ctx *cli.Context, state asynq.TaskState) error {
	page := ctx.Int("page")
	size := ctx.Int("size")
	queueName := ctx.String("queue")
	conf := getConfig(ctx)
	inspector := newInspector(conf)
	defer inspector.Close() // nolint: errcheck

	stateToFunc := map[asynq.TaskState]func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		asynq.TaskStateActive:    inspector.ListActiveTasks,
		asynq.TaskStatePending:   inspector.ListPendingTasks,
		asynq.TaskStateArchived:  inspector.ListArchivedTasks,
		asynq.TaskStateCompleted: inspector.ListCompletedTasks,
		asynq.TaskStateRetry:     inspector.ListRetryTasks,
		asynq.TaskStateScheduled: inspector.ListScheduledTasks,
	}

	getFunc, ok := stateToFunc[state]
	if !ok {
		return fmt.Errorf("unknown task state: %v", state)
	}

	items, err := getFunc(queueName, asynq.Page(page), asynq.PageSize(size))
	if err != nil {
		return err
	}

	if len(items) == 0 {
		return nil
	}

	headers := []string{
		"ID",
		"TYPE",
		"RETRIED",
		"IS ORPHANED",
	}
	table := newTableWriter(os.Stdout, headers)
	for _, item := range items {
		row := []string{
			item.ID,
			item.Type,
			fmt.Sprintf("%d/%d", item.Retried, item.MaxRetry),
			strconv.FormatBool(item.IsOrphaned),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}

	return table.Render()
}
