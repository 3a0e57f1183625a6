package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/meridian-integrity/rbi-cli/internal/rbi"
	"github.com/meridian-integrity/rbi-cli/internal/registry"
)

var (
	previewPolicyFile string
	previewTags       string
	previewAll        bool
	previewLimit      int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview due-date impact of a candidate policy without persisting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		candidate, err := registry.LoadPolicyFromFile(previewPolicyFile)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var tags []string
		switch {
		case previewAll:
			tags, err = st.ListValveTags(ctx)
			if err != nil {
				return eris.Wrap(err, "list valve tags")
			}
		case previewTags != "":
			for _, tag := range strings.Split(previewTags, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					tags = append(tags, tag)
				}
			}
		default:
			return eris.New("either --tags or --all is required")
		}
		if previewLimit > 0 && len(tags) > previewLimit {
			tags = tags[:previewLimit]
		}

		engine := rbi.NewEngine(st, st, st)
		previewer := rbi.NewPreviewer(engine, st,
			rbi.WithConcurrency(cfg.Preview.Concurrency),
			rbi.WithRateLimit(cfg.Preview.RateLimit, cfg.Preview.RateBurst),
		)

		entries, err := previewer.Preview(ctx, tags, candidate)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewPolicyFile, "policy", "", "candidate policy YAML file (required)")
	previewCmd.Flags().StringVar(&previewTags, "tags", "", "comma-separated valve tags")
	previewCmd.Flags().BoolVar(&previewAll, "all", false, "preview every registered valve")
	previewCmd.Flags().IntVar(&previewLimit, "limit", 0, "max number of valves to preview")
	previewCmd.MarkFlagRequired("policy")
	rootCmd.AddCommand(previewCmd)
}
