package main

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommandNames(cmds []*cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd.Commands())
	for _, name := range []string{"serve", "refresh", "check", "substitute", "tiers", "cache", "alternatives", "jobs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "pricing-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRefreshCommand_Subcommands(t *testing.T) {
	names := subcommandNames(refreshCmd.Commands())
	assert.True(t, names["item"])
	assert.True(t, names["tier"])

	flag := refreshItemCmd.Flags().Lookup("force")
	require.NotNil(t, flag, "refresh item should have --force flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestSubstituteCommand_Subcommands(t *testing.T) {
	names := subcommandNames(substituteCmd.Commands())
	for _, name := range []string{"apply", "restore", "stats"} {
		assert.True(t, names[name], "expected substitute %q", name)
	}
	require.NotNil(t, substituteStatsCmd.Flags().Lookup("build"))
	require.NotNil(t, substituteStatsCmd.Flags().Lookup("tier"))
}

func TestJobsCommand_Subcommands(t *testing.T) {
	names := subcommandNames(jobsCmd.Commands())
	assert.True(t, names["status"])
	assert.True(t, names["alerts"])

	flag := jobsAlertsCmd.Flags().Lookup("send")
	require.NotNil(t, flag, "jobs alerts should have --send flag")
	assert.Equal(t, "false", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRefreshTier_RejectsBadTier(t *testing.T) {
	err := refreshTierCmd.RunE(refreshTierCmd, []string{"D"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tier")
}
