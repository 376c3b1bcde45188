package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/refresh"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh item prices",
}

// -- refresh item --

var refreshItemCmd = &cobra.Command{
	Use:   "item <id>",
	Short: "Refresh one item, bypassing the cache with --force",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		force, _ := cmd.Flags().GetBool("force")
		res := env.Service.RefreshItem(ctx, args[0], force)
		formatItemResults(os.Stdout, []refresh.ItemResult{res})
		if res.Outcome == refresh.OutcomeFailed {
			return eris.Errorf("refresh item %s: %s", args[0], res.Error)
		}
		return nil
	},
}

// -- refresh tier --

var refreshTierCmd = &cobra.Command{
	Use:   "tier <A|B|C>",
	Short: "Refresh every item of a tier",
	Long:  "Refreshes a tier's items sequentially, least recently refreshed first. Tier C is only ever refreshed this way.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, ok := model.ParseTier(args[0])
		if !ok {
			return eris.Errorf("invalid tier %q (want A, B or C)", args[0])
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Service.RefreshTier(ctx, tier)
		if err != nil {
			return err
		}
		formatItemResults(os.Stdout, rep.Results)
		fmt.Fprintln(os.Stdout)
		formatBatchSummary(os.Stdout, rep)
		return nil
	},
}

func init() {
	refreshItemCmd.Flags().Bool("force", false, "skip the price cache")
	refreshCmd.AddCommand(refreshItemCmd, refreshTierCmd)
	rootCmd.AddCommand(refreshCmd)
}
