package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-integrity/rbi-cli/internal/registry"
)

var (
	importValves     string
	importCategories string
	importPolicies   string
	importHistory    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import valves, risk categories, policies and calibration history from YAML fixtures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if importValves != "" {
			valves, err := registry.LoadValvesFromFile(importValves)
			if err != nil {
				return err
			}
			for _, v := range valves {
				if err := st.UpsertValve(ctx, v); err != nil {
					return err
				}
			}
			zap.L().Info("imported valves", zap.Int("count", len(valves)))
		}

		if importCategories != "" {
			categories, err := registry.LoadCategoriesFromFile(importCategories)
			if err != nil {
				return err
			}
			for _, c := range categories {
				if err := st.UpsertCategory(ctx, c); err != nil {
					return err
				}
			}
			zap.L().Info("imported risk categories", zap.Int("count", len(categories)))
		}

		if importPolicies != "" {
			policies, err := registry.LoadPoliciesFromFile(importPolicies)
			if err != nil {
				return err
			}
			for _, p := range policies {
				created, err := st.CreatePolicy(ctx, p)
				if err != nil {
					return err
				}
				zap.L().Info("imported policy",
					zap.String("policy_id", created.ID),
					zap.String("name", created.Name),
					zap.Int("level", int(created.Level)),
				)
			}
		}

		if importHistory != "" {
			records, err := registry.LoadHistoryFromFile(importHistory)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if _, err := st.AppendCalibration(ctx, rec); err != nil {
					return err
				}
			}
			zap.L().Info("imported calibration records", zap.Int("count", len(records)))
		}

		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importValves, "valves", "", "valves fixture YAML")
	importCmd.Flags().StringVar(&importCategories, "categories", "", "risk categories fixture YAML")
	importCmd.Flags().StringVar(&importPolicies, "policies", "", "policies fixture YAML")
	importCmd.Flags().StringVar(&importHistory, "history", "", "calibration history fixture YAML")
	rootCmd.AddCommand(importCmd)
}
