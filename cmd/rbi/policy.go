package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage RBI policy configurations",
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all policy versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		policies, err := st.ListPolicies(ctx)
		if err != nil {
			return err
		}
		for _, p := range policies {
			marker := " "
			if p.Active {
				marker = "*"
			}
			fmt.Printf("%s %s  %s v%d (level %d)\n", marker, p.ID, p.Name, p.Version, p.Level)
		}
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one policy as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		policy, err := st.GetPolicy(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(policy)
	},
}

var policyActivateCmd = &cobra.Command{
	Use:   "activate ID",
	Short: "Activate a policy version, deactivating all others",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ActivatePolicy(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("policy activated", zap.String("policy_id", args[0]))
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyListCmd, policyShowCmd, policyActivateCmd)
	rootCmd.AddCommand(policyCmd)
}
