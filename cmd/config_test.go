package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tasktrack/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	setDefaults(dir)

	// Reset shared state
	dataJournal = nil
	dryRun = false
	verbose = false

	// Initialize output
	ui = output.New()
	t.Cleanup(func() {
		if dataJournal != nil {
			_ = dataJournal.Close()
			dataJournal = nil
		}
	})

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tasktrack configuration")
	assert.Contains(t, string(data), "tracking")
	assert.Contains(t, string(data), "granularity")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tasktrack configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	// Unset EDITOR and VISUAL
	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	// From env
	os.Setenv("TASKTRACK_TEST_KEY", "val")
	defer os.Unsetenv("TASKTRACK_TEST_KEY")
	assert.Contains(t, detectSource("test_key", "TASKTRACK_TEST_KEY", fileValues), "env")

	// From file
	assert.Contains(t, detectSource("key_a", "TASKTRACK_KEY_A_NONEXISTENT", fileValues), "file")

	// Default
	assert.Contains(t, detectSource("key_b", "TASKTRACK_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestSetDefaults(t *testing.T) {
	dir := testEnv(t)

	assert.Equal(t, filepath.Join(dir, "tasktrack.db"), viper.GetString("db_path"))
	assert.Equal(t, filepath.Join(dir, "tasktrack.sock"), viper.GetString("socket_path"))
	assert.Equal(t, "task", viper.GetString("task.bin"))
	assert.Equal(t, "10m", viper.GetString("tracking.granularity"))
	assert.False(t, viper.GetBool("tracking.exclusive"))
	assert.True(t, viper.GetBool("journal.enabled"))
}

func TestEngineOptions(t *testing.T) {
	testEnv(t)
	viper.Set("tracking.granularity", "90s")
	viper.Set("tracking.exclusive", true)

	opts, err := engineOptions()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, opts.Granularity)
	assert.True(t, opts.Exclusive)
	assert.Equal(t, 30*time.Second, opts.CommandTimeout)

	viper.Set("tracking.granularity", "soon")
	_, err = engineOptions()
	assert.ErrorContains(t, err, "tracking.granularity")

	viper.Set("tracking.granularity", "10m")
	viper.Set("task.timeout", "0s")
	_, err = engineOptions()
	assert.ErrorContains(t, err, "task.timeout")
}
