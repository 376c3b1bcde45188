package main

import (
	"os"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <id>",
	Short: "Check an item's listing live and propose an action",
	Long:  "Fetches the item's listing, evaluates it against the substitution tolerances and proposes a substitute when one is warranted. Nothing is applied.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.Service.CheckItem(ctx, args[0])
		if err != nil {
			return err
		}
		formatProposal(os.Stdout, p)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
