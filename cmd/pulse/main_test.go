package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("server:\n  port: 9100\nstorage:\n  type: memory\n"), 0o600))
	out, err := runCommand(t, "validate", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server:\n  port: 70000\n"), 0o600))
	_, err = runCommand(t, "validate", "--config", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateCommand_MissingFileUsesDefaults(t *testing.T) {
	_, err := runCommand(t, "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestVersionFlag(t *testing.T) {
	out, err := runCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
