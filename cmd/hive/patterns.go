package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/learning"
)

var (
	patternsDB      string
	patternsHistory int
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show learned workflow-pattern effectiveness",
	Long: `List the effectiveness scores recorded for each task type and workflow
pattern. Scores are an exponential moving average of flow success rates.

The database is --db, else learning.db_path, else the user-wide database.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := patternsDB
		if path == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			path = resolveLearningPath(cfg.Learning.DBPath, true)
		}
		store, err := learning.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		return listPatterns(cmd.Context(), cmd.OutOrStdout(), store, patternsHistory)
	},
}

func init() {
	patternsCmd.Flags().StringVar(&patternsDB, "db", "", "Effectiveness database path")
	patternsCmd.Flags().IntVar(&patternsHistory, "history", 0, "Also show up to N recent scores per entry")
}

// resolveLearningPath picks the effectiveness database. An empty configured
// path means in-memory unless persist asks for the user-wide database.
func resolveLearningPath(configured string, persist bool) string {
	if configured != "" {
		return configured
	}
	if persist {
		return learning.GlobalDBPath()
	}
	return ""
}

func listPatterns(ctx context.Context, w io.Writer, store *learning.Store, history int) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no learned patterns yet")
		return nil
	}

	fmt.Fprintln(w, titleStyle.Render("Pattern effectiveness"))
	for _, e := range entries {
		fmt.Fprintf(w, "%-20s %-13s %.2f  (%d samples, updated %s)\n",
			e.TaskType, e.Pattern, e.Score, e.Samples, e.UpdatedAt.Local().Format(time.DateTime))
		if history <= 0 {
			continue
		}
		recent, err := store.History(ctx, e.TaskType, e.Pattern, history)
		if err != nil {
			return err
		}
		for _, h := range recent {
			fmt.Fprintf(w, "    %.2f at %s\n", h.Score, h.RecordedAt.Local().Format(time.DateTime))
		}
	}
	return nil
}
