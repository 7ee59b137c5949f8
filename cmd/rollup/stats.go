// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	feedbackstore "github.com/feedbackhub/rollup/pkg/feedback/store"
	"github.com/feedbackhub/rollup/pkg/stats/bucket"
	statsstore "github.com/feedbackhub/rollup/pkg/stats/store"
	"github.com/feedbackhub/rollup/pkg/utils/tz"
)

// defaultStatsRange is the range of days displayed when no start date is
// given.
const defaultStatsRange = 30

// parseDate parses the date flag with the given name. The fallback is used
// when the flag is not set.
func parseDate(ctx *cli.Context, name string, fallback time.Time) (time.Time, error) {
	if !ctx.IsSet(name) {
		return fallback, nil
	}

	date, err := time.Parse(bucket.DateLayout, ctx.String(name))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date: %w", name, err)
	}

	return date, nil
}

// NewStatsCommand returns a new command for interfacing with the feedback
// statistics.
func NewStatsCommand() *cli.Command {
	cmd := &cli.Command{
		Name:  "stats",
		Usage: "feedback statistics operations",
		Before: func(ctx *cli.Context) error {
			return validateDBConfig(getConfig(ctx))
		},
		Subcommands: []*cli.Command{
			{
				Name:    "show",
				Usage:   "display the statistics of a project",
				Aliases: []string{"s"},
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:     "project",
						Usage:    "project id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "interval",
						Usage: "bucket interval, one of day, week or month",
						Value: string(bucket.Day),
					},
					&cli.StringFlag{
						Name:  "from",
						Usage: "first date to include, e.g. 2024-01-01",
					},
					&cli.StringFlag{
						Name:  "to",
						Usage: "last date to include, defaults to today",
					},
				},
				Action: func(ctx *cli.Context) error {
					interval, err := bucket.ParseInterval(ctx.String("interval"))
					if err != nil {
						return err
					}

					to, err := parseDate(ctx, "to", tz.StartOfDay(time.Now().UTC()))
					if err != nil {
						return err
					}

					from, err := parseDate(ctx, "from", to.AddDate(0, 0, -defaultStatsRange))
					if err != nil {
						return err
					}

					if from.After(to) {
						return fmt.Errorf("--from %s is after --to %s", from.Format(bucket.DateLayout), to.Format(bucket.DateLayout))
					}

					conf := getConfig(ctx)
					db, err := newDB(conf)
					if err != nil {
						return err
					}
					defer db.Close() // nolint: errcheck

					projectID := ctx.Uint64("project")
					channels, err := feedbackstore.NewBunStore(db).ListChannels(ctx.Context, projectID)
					if err != nil {
						return err
					}

					rows, err := statsstore.NewBunStore(db).ListRows(ctx.Context, channels, from, to)
					if err != nil {
						return err
					}

					if len(rows) == 0 {
						return nil
					}

					buckets := bucket.Merge(rows, interval, to)
					channelIDs := make([]uint64, 0, len(buckets))
					for channelID := range buckets {
						channelIDs = append(channelIDs, channelID)
					}
					slices.Sort(channelIDs)

					headers := []string{
						"CHANNEL-ID",
						"BUCKET",
						"COUNT",
					}
					table := newTableWriter(os.Stdout, headers)
					for _, channelID := range channelIDs {
						for _, item := range buckets[channelID] {
							row := []string{
								strconv.FormatUint(channelID, 10),
								item.Label,
								strconv.FormatInt(item.Count, 10),
							}
							if err := table.Append(row); err != nil {
								return err
							}
						}
					}

					return table.Render()
				},
			},
		},
	}

	return cmd
}
