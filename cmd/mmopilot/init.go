package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jllopis/mmopilot/pkg/config"
)

func (a *App) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample settings file",
		Long: `Write a sample settings file with one character and a heal, bank and
farm rule. An existing file is never overwritten.

Examples:
  mmopilot init
  mmopilot init bots/farm.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) > 0 {
				path = args[0]
			}
			written, err := config.WriteDefault(path)
			if err != nil {
				return NewConfigError(err, path)
			}
			if !written {
				fmt.Fprintf(a.stdout, "%s already exists, leaving it untouched\n", path)
				return nil
			}
			fmt.Fprintf(a.stdout, "Wrote %s\n", path)
			return nil
		},
	}
}
