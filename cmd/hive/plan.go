package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	planFlags   requestFlags
	planOffline bool
	planJSON    bool
)

var planCmd = &cobra.Command{
	Use:   "plan <task>",
	Short: "Compose a team for a task without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := planFlags.request(args)
		if err != nil {
			return err
		}
		a, err := newApp(planOffline)
		if err != nil {
			return err
		}
		defer a.close()

		plan, consensus, err := a.planner(a.triage(), nil).Plan(cmd.Context(), req)
		if err != nil {
			return err
		}
		if planJSON {
			return writeJSON(cmd.OutOrStdout(), plan)
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderPlan(consensus, plan))
		return nil
	},
}

func init() {
	planFlags.register(planCmd)
	planCmd.Flags().BoolVar(&planOffline, "offline", false, "Plan with the built-in raters only")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON")
}
