package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDaemonCommand_FlagsAndDefaults(t *testing.T) {
	cmd := newDaemonCmd()

	deleteRemote := cmd.Flags().Lookup("delete-remote")
	require.NotNil(t, deleteRemote)
	require.Equal(t, "false", deleteRemote.DefValue)
}

func TestLsCommand_RejectsExtraArgs(t *testing.T) {
	out, code := runCLI(t, "ls", "alpha", "beta")
	require.Equal(t, 1, code)
	require.Contains(t, out, "accepts at most 1 arg")
}
