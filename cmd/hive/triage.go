package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	triageFlags   requestFlags
	triageOffline bool
	triageJSON    bool
)

var triageCmd = &cobra.Command{
	Use:   "triage <task>",
	Short: "Rate a task's complexity and show the escalation decision",
	Long: `Run the rater panel on a task without planning or executing it.

The keyword and scope raters always vote. Model-backed raters join when an
API key is configured, unless --offline is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := triageFlags.request(args)
		if err != nil {
			return err
		}
		a, err := newApp(triageOffline)
		if err != nil {
			return err
		}
		defer a.close()

		escalate, result, err := a.triage().Run(cmd.Context(), req)
		if err != nil {
			return err
		}
		if triageJSON {
			return writeJSON(cmd.OutOrStdout(), struct {
				Escalate bool `json:"escalate"`
				Result   any  `json:"result"`
			}{escalate, result})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderConsensus(escalate, result))
		return nil
	},
}

func init() {
	triageFlags.register(triageCmd)
	triageCmd.Flags().BoolVar(&triageOffline, "offline", false, "Use only the built-in raters")
	triageCmd.Flags().BoolVar(&triageJSON, "json", false, "Print the decision as JSON")
}
