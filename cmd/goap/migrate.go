package main

import (
	"github.com/spf13/cobra"

	"github.com/zero-day-ai/goap/internal/database"
)

var migrateRollbackTo int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openRuntime()
		if err != nil {
			return err
		}
		defer db.Close()

		log := newLogger(cfg)
		m := database.NewMigrator(db)

		before, err := m.CurrentVersion(cmd.Context())
		if err != nil {
			return err
		}
		if err := m.Migrate(cmd.Context()); err != nil {
			return err
		}
		after, err := m.CurrentVersion(cmd.Context())
		if err != nil {
			return err
		}

		log.Info("migrations applied", "from", before, "to", after)
		cmd.Printf("schema at version %d\n", after)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openRuntime()
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := database.NewMigrator(db).AppliedMigrations(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			cmd.Println("no migrations applied")
			return nil
		}
		for _, m := range applied {
			cmd.Printf("%3d  %-24s %s\n", m.Version, m.Name, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll back to a target schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openRuntime()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.NewMigrator(db).Rollback(cmd.Context(), migrateRollbackTo); err != nil {
			return err
		}
		newLogger(cfg).Info("schema rolled back", "to", migrateRollbackTo)
		cmd.Printf("schema at version %d\n", migrateRollbackTo)
		return nil
	},
}

func init() {
	migrateRollbackCmd.Flags().IntVar(&migrateRollbackTo, "to", 0, "target schema version")
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
}
