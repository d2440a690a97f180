package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesSpecDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Storage.ActiveWindowDays)
	assert.Equal(t, 90, cfg.Storage.RecentWindowDays)
	assert.Equal(t, 16, cfg.Storage.OpenTierCap)
	assert.Equal(t, 16, cfg.Index.HNSWM)
	assert.Equal(t, 200, cfg.Index.HNSWEfConstruction)
	assert.Equal(t, 50, cfg.Index.HNSWEfSearch)
	assert.Equal(t, 384, cfg.Embedding.DimFast)
	assert.Equal(t, 1536, cfg.Embedding.DimAccurate)
	assert.Equal(t, 4, cfg.Scheduler.WorkersUrgent)
	assert.Equal(t, 30, cfg.Scheduler.ActivityLowThresholdS)
	assert.Equal(t, 600, cfg.Scheduler.ActivitySleepThresholdS)
	assert.Equal(t, 250, cfg.Query.BudgetMS)
	assert.Equal(t, 2000, cfg.Query.DeadlineMS)
}

func TestLoadReadsFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "miacore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  opentiercap: 32\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Storage.OpenTierCap)
}

func TestEnvOverlayWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "miacore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  opentiercap: 32\n"), 0o644))

	t.Setenv("MIACORE_OPEN_TIER_CAP", "64")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Storage.OpenTierCap)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("MIACORE_LOG_LEVEL", "verbose")
	_, err := Load("")
	assert.Error(t, err)
}

func TestDefaultRootPathIsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, DefaultRootPath())
}
