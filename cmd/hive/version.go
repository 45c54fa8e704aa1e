package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/version"
)

var versionFull bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		if versionFull {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "hive version %s\n", version.Get())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionFull, "full", false, "Include commit and runtime details")
}
