package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/goap/internal/database"
	"github.com/zero-day-ai/goap/internal/maintenance"
	"github.com/zero-day-ai/goap/internal/pattern"
)

var (
	pruneFloor     float64
	pruneRetention time.Duration
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove low-confidence patterns past their retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openRuntime()
		if err != nil {
			return err
		}
		defer db.Close()

		log := newLogger(cfg)

		floor := cfg.Maintenance.ConfidenceFloor
		if cmd.Flags().Changed("floor") {
			floor = pruneFloor
		}
		retention := cfg.Maintenance.Retention
		if cmd.Flags().Changed("retention") {
			retention = pruneRetention
		}

		store := pattern.NewStore(database.NewPatternDAO(db), pattern.WithLogger(log))
		pruner := maintenance.New(store,
			maintenance.WithConfidenceFloor(floor),
			maintenance.WithRetention(retention),
			maintenance.WithCompactor(db),
			maintenance.WithLogger(log))

		removed, err := pruner.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("removed %d pattern(s)\n", removed)
		return nil
	},
}

func init() {
	pruneCmd.Flags().Float64Var(&pruneFloor, "floor", maintenance.DefaultConfidenceFloor, "confidence floor")
	pruneCmd.Flags().DurationVar(&pruneRetention, "retention", maintenance.DefaultRetention, "retention window")
}
