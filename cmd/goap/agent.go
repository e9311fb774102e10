package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/goap/internal/database"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect agent reliability and verification thresholds",
}

var agentReliabilityCmd = &cobra.Command{
	Use:   "reliability <agent-id>",
	Short: "Show the tracked reliability of an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, err := openRuntime()
		if err != nil {
			return err
		}
		defer db.Close()

		rel, err := database.NewReliabilityDAO(db).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if rel == nil {
			return fmt.Errorf("no reliability recorded for agent %q", args[0])
		}

		cmd.Printf("agent:         %s (%s)\n", rel.AgentID, rel.AgentType)
		cmd.Printf("verifications: %d (%d ok, %d failed)\n",
			rel.TotalVerifications, rel.SuccessCount, rel.FailureCount)
		cmd.Printf("reliability:   %.3f\n", rel.Reliability)
		cmd.Printf("truth score:   %.3f (variance %.4f)\n", rel.AvgTruthScore, rel.TruthScoreVariance)
		cmd.Printf("trend:         %s\n", rel.Trend)
		if rel.Quarantined {
			cmd.Println("quarantined:   yes")
		}
		return nil
	},
}

var agentThresholdCmd = &cobra.Command{
	Use:   "threshold <agent-type> [file-type]",
	Short: "Show the adaptive verification threshold for a context",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := openRuntime()
		if err != nil {
			return err
		}
		defer db.Close()

		fileType := ""
		if len(args) == 2 {
			fileType = args[1]
		}

		th, err := database.NewThresholdDAO(db).Get(cmd.Context(), args[0], fileType)
		if err != nil {
			return err
		}
		if th == nil {
			cmd.Printf("no adapted threshold recorded; base threshold is %.3f\n",
				cfg.Verification.BaseThreshold)
			return nil
		}

		cmd.Printf("agent type:  %s\n", th.AgentType)
		if th.FileType != "" {
			cmd.Printf("file type:   %s\n", th.FileType)
		}
		cmd.Printf("threshold:   %.3f (base %.3f, bounds [%.3f, %.3f])\n",
			th.AdjustedThreshold, th.BaseThreshold, th.ConfidenceMin, th.ConfidenceMax)
		cmd.Printf("sample size: %d\n", th.SampleSize)
		return nil
	},
}

func init() {
	agentCmd.AddCommand(agentReliabilityCmd)
	agentCmd.AddCommand(agentThresholdCmd)
}
