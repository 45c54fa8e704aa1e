package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/signals"
)

var stopClear bool

var stopCmd = &cobra.Command{
	Use:   "stop <dir>",
	Short: "Stop a run started with --stop-dir <dir>",
	Long: `Write a kill file into dir. A 'hive run --stop-dir dir' watching it
cancels its flow and reports partial results.

With --clear, remove a stale kill file instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopClear {
			if err := signals.Clear(args[0]); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), "✓", "kill file cleared", color.FgGreen)
			return nil
		}
		if err := signals.SendKill(args[0]); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), "■", "kill file written", color.FgYellow)
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopClear, "clear", false, "Remove the kill file")
}
