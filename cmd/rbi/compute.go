package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-integrity/rbi-cli/internal/rbi"
)

var computeCommit bool

var computeCmd = &cobra.Command{
	Use:   "compute TAG",
	Short: "Compute the next calibration due date for a valve under the active policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tag := args[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		active, err := st.ActivePolicy(ctx)
		if err != nil {
			return eris.Wrap(err, "load active policy")
		}
		if active == nil {
			return eris.New("no active policy; activate one with 'rbi policy activate'")
		}

		engine := rbi.NewEngine(st, st, st)
		result, err := engine.Compute(ctx, tag, active.Level, active)
		if err != nil {
			return err
		}

		if computeCommit {
			auditID, err := st.RecordSchedule(ctx, *result)
			if err != nil {
				return eris.Wrap(err, "record schedule")
			}
			zap.L().Info("schedule committed",
				zap.String("tag", tag),
				zap.String("audit_id", auditID),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	computeCmd.Flags().BoolVar(&computeCommit, "commit", false, "record the result in the schedule audit log")
	rootCmd.AddCommand(computeCmd)
}
