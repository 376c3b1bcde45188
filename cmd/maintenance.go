package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/partwise/pricing-cli/internal/alternative"
	"github.com/partwise/pricing-cli/internal/model"
	"github.com/partwise/pricing-cli/internal/monitoring"
)

// -- tiers assign --

var tiersCmd = &cobra.Command{
	Use:   "tiers",
	Short: "Manage refresh tiers",
}

var tiersAssignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Recompute every item's tier from its type and price",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Service.AssignTiers(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Items: %d, changed: %d, failed: %d (A: %d, B: %d, C: %d)\n",
			rep.Total, rep.Changed, rep.Failed, rep.ByTier[model.TierA], rep.ByTier[model.TierB], rep.ByTier[model.TierC])
		return nil
	},
}

// -- cache cleanup --

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the price cache",
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete cache entries expired longer than the grace period",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Service.CleanupCache(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Deleted %d stale cache entries\n", n)
		return nil
	},
}

// -- alternatives seed --

var alternativesCmd = &cobra.Command{
	Use:   "alternatives",
	Short: "Manage alternative candidates",
}

var alternativesSeedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load alternative categories and candidates from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close() //nolint:errcheck

		seed, err := alternative.LoadSeed(f)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := seed.Apply(ctx, st)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Seeded %d categories, %d candidates\n", rep.Categories, rep.Candidates)
		return nil
	},
}

// -- jobs status --

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect scheduler job runs",
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest recorded run of every job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.LatestJobRuns(ctx)
		if err != nil {
			return eris.Wrap(err, "jobs status")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No job runs recorded.")
			return nil
		}
		formatJobRuns(os.Stdout, runs)
		return nil
	},
}

var alertsSend bool

var jobsAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate alert thresholds against recent job runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if len(alerts) == 0 {
			fmt.Fprintf(os.Stderr, "No alerts in the last %dh.\n", snap.LookbackHours)
			return nil
		}
		formatAlerts(os.Stdout, alerts)
		if alertsSend {
			sent := alerter.SendAlerts(ctx, alerts)
			fmt.Fprintf(os.Stderr, "Sent %d/%d alerts\n", sent, len(alerts))
		}
		return nil
	},
}

func init() {
	jobsAlertsCmd.Flags().BoolVar(&alertsSend, "send", false, "post alerts to monitoring.webhook_url")
	tiersCmd.AddCommand(tiersAssignCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	alternativesCmd.AddCommand(alternativesSeedCmd)
	jobsCmd.AddCommand(jobsStatusCmd, jobsAlertsCmd)
	rootCmd.AddCommand(tiersCmd, cacheCmd, alternativesCmd, jobsCmd)
}
