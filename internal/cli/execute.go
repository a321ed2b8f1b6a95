package cli

import (
	"github.com/spf13/cobra"

	"marketplace-repricer/internal/app"
)

var (
	executeRuleID   string
	executeListings []string
	executeDryRun   bool
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Run one repricing pass over the candidate listings",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExecuteOptions{
			RuleID:     executeRuleID,
			ListingIDs: executeListings,
			DryRun:     executeDryRun,
		}
		return getApp().Execute(cmd.Context(), opts)
	},
}

func init() {
	executeCmd.Flags().StringVar(&executeRuleID, "rule", "", "Pricing rule governing the run (defaults to per-listing rule selection)")
	executeCmd.Flags().StringSliceVar(&executeListings, "listing", nil, "Restrict the run to specific listing ids")
	executeCmd.Flags().BoolVar(&executeDryRun, "dry-run", false, "Compute adjustments without persisting or dispatching")
}
