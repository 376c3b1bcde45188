package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/partwise/pricing-cli/internal/model"
)

var substituteCmd = &cobra.Command{
	Use:   "substitute",
	Short: "Apply, reverse and report substitutions",
}

// -- substitute apply --

var substituteApplyCmd = &cobra.Command{
	Use:   "apply <id>",
	Short: "Substitute the best validated alternative into an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		item, cand, err := env.Service.ApplySubstitution(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Substituted %s -> %s (%s) at %.2f\n",
			item.OriginalExternalKey, cand.AlternativeKey, item.Name, item.Price)
		return nil
	},
}

// -- substitute restore --

var substituteRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore an item's original listing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		item, err := env.Service.RestoreOriginal(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Restored %s (%s) at %.2f\n", item.ExternalKey, item.Name, item.Price)
		return nil
	},
}

// -- substitute stats --

var substituteStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count substituted items within a build or tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		build, _ := cmd.Flags().GetString("build")
		tierFlag, _ := cmd.Flags().GetString("tier")
		filter := model.ItemFilter{BuildID: build}
		if tierFlag != "" {
			tier, ok := model.ParseTier(tierFlag)
			if !ok {
				return eris.Errorf("invalid tier %q (want A, B or C)", tierFlag)
			}
			filter.Tier = tier
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Service.SubstitutionStats(ctx, filter)
		if err != nil {
			return err
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	substituteStatsCmd.Flags().String("build", "", "limit to one build")
	substituteStatsCmd.Flags().String("tier", "", "limit to one tier (A, B or C)")
	substituteCmd.AddCommand(substituteApplyCmd, substituteRestoreCmd, substituteStatsCmd)
	rootCmd.AddCommand(substituteCmd)
}
