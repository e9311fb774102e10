package main

import (
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts for the planner's tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openRuntime()
		if err != nil {
			return err
		}
		defer db.Close()

		tables := []struct {
			label string
			name  string
		}{
			{"patterns", "goap_patterns"},
			{"plans", "goap_plans"},
			{"execution outcomes", "goap_execution_outcomes"},
			{"heuristic samples", "goap_heuristic_learning"},
			{"replanning triggers", "goap_replanning_triggers"},
			{"verification outcomes", "verification_outcomes"},
			{"agent reliability", "agent_reliability"},
			{"adaptive thresholds", "adaptive_thresholds"},
		}

		ctx := cmd.Context()
		for _, tbl := range tables {
			var count int64
			row := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl.name)
			if err := row.Scan(&count); err != nil {
				return err
			}
			cmd.Printf("%-24s %d\n", tbl.label, count)
		}
		return nil
	},
}
