// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/feedbackhub/rollup/pkg/core/registry"
)

// NewModelCommand returns a new command for interfacing with the models.
func NewModelCommand() *cli.Command {
	cmd := &cli.Command{
		Name:    "model",
		Usage:   "model operations",
		Aliases: []string{"m"},
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Usage:   "list registered models",
				Aliases: []string{"ls"},
				Action: func(_ *cli.Context) error {
					models := registry.ModelRegistry.Keys()
					slices.Sort(models)

					table := newTableWriter(os.Stdout, []string{"NAME", "TYPE"})
					for _, name := range models {
						model, _ := registry.ModelRegistry.Get(name)
						if err := table.Append([]string{name, fmt.Sprintf("%T", model)}); err != nil {
							return err
						}
					}

					return table.Render()
				},
			},
		},
	}

	return cmd
}
