package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsedCreate(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "create"}
	createFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestRaidFlags(t *testing.T) {
	raid, err := raidFlags(parsedCreate(t))
	require.NoError(t, err)
	assert.Nil(t, raid)

	raid, err = raidFlags(parsedCreate(t, "-r", "10", "-i", "4", "-I", "64"))
	require.NoError(t, err)
	require.NotNil(t, raid)
	assert.Equal(t, "10", raid.Level)
	require.NotNil(t, raid.Stripes)
	assert.Equal(t, 4, *raid.Stripes)
	require.NotNil(t, raid.StripeSize)
	assert.Equal(t, 64, *raid.StripeSize)

	// Stripes without a level are passed through; validation rejects them.
	raid, err = raidFlags(parsedCreate(t, "--stripes", "2"))
	require.NoError(t, err)
	require.NotNil(t, raid)
	assert.Empty(t, raid.Level)

	_, err = raidFlags(parsedCreate(t, "-i", "0"))
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"check", "resize", "create", "list", "add", "remove", "snapshot"} {
		assert.Contains(t, names, want)
	}
	assert.True(t, snapshotCmd.Flags().Lookup("dest") != nil)
	assert.Equal(t, "s", resizeCmd.Flags().Lookup("size").Shorthand)
}
