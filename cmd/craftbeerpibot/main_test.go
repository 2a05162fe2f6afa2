package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnvMissingFile(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnvSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CRAFTBEERPIBOT_TEST_VALUE=brew\n"), 0o600))
	t.Setenv("CRAFTBEERPIBOT_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("CRAFTBEERPIBOT_TEST_VALUE"))

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "brew", os.Getenv("CRAFTBEERPIBOT_TEST_VALUE"))
}

func TestLoadDotEnvReportsUnreadableFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.Mkdir(dir, 0o755))

	err := loadDotEnv(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".env")
}

func TestLoadDotEnvReportsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("BROKEN='unterminated\n"), 0o600))

	assert.Error(t, loadDotEnv(path))
}
