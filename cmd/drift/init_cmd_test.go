package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCommand_CreatesConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	out, code := runCLI(t, "init", "--config", cfgPath)
	require.Equal(t, 0, code, out)
	assert.Contains(t, stripANSI(out), "Drift config created")
	assert.FileExists(t, cfgPath)
}

func TestInitCommand_RefusesOverwrite(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	firstOut, firstCode := runCLI(t, "init", "--config", cfgPath)
	require.Equal(t, 0, firstCode, firstOut)

	out, code := runCLI(t, "init", "--config", cfgPath)
	require.Equal(t, 0, code, out)
	assert.Contains(t, stripANSI(out), "already configured")
}

func TestInitCommand_ForceRewrites(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	firstOut, firstCode := runCLI(t, "init", "--config", cfgPath)
	require.Equal(t, 0, firstCode, firstOut)
	require.NoError(t, os.WriteFile(cfgPath, []byte("bucket: custom"), 0o644))

	out, code := runCLI(t, "init", "--config", cfgPath, "--force")
	require.Equal(t, 0, code, out)
	assert.Contains(t, stripANSI(out), "Drift config created")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "bucket: custom")
}
