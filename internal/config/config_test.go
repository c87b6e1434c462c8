package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  log_level: debug\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 900, cfg.Cycle.IntervalSec)
	assert.Equal(t, 250, cfg.Cycle.TickMs)
	assert.Equal(t, 0.6, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, "disabled", cfg.BrokerMode)
	assert.Equal(t, 0.40, cfg.Defcon.Weights.News)
	assert.Equal(t, -0.03, cfg.Exit.StopLoss)
	assert.Equal(t, 60, cfg.Exit.MinHoldMinutes)

	// Derived defaults fill the map-typed blocks.
	assert.Equal(t, 5, cfg.RateLimits["alpha_vantage"].RPM)
	assert.Equal(t, 12000, cfg.RateLimits["alpha_vantage"].MinMs)
	assert.Equal(t, 60, cfg.RateLimits["reddit"].RPM)
	assert.NotEmpty(t, cfg.Market.Symbols)
	assert.NotEmpty(t, cfg.News.RelevanceLexicon)
	assert.Contains(t, cfg.News.UrgencyKeywords, "breaking")
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
cycle:
  interval_sec: 300
broker_mode: semi_auto
dedup:
  similarity_threshold: 0.8
rate_limits:
  alpha_vantage:
    rpm: 10
    min_ms: 6000
exit:
  stop_loss: -0.05
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Cycle.IntervalSec)
	assert.Equal(t, "semi_auto", cfg.BrokerMode)
	assert.Equal(t, 0.8, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, 10, cfg.RateLimits["alpha_vantage"].RPM)
	assert.Equal(t, -0.05, cfg.Exit.StopLoss)
	// Untouched sources keep their defaults.
	assert.Equal(t, 60, cfg.RateLimits["reddit"].RPM)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for _, body := range []string{
		"broker_mode: yolo\n",
		"dedup:\n  similarity_threshold: 1.5\n",
		"exit:\n  stop_loss: 0.05\n",
		"cycle:\n  interval_sec: 1\n",
	} {
		path := writeConfig(t, body)
		_, err := Load(path)
		assert.Error(t, err, "body=%q", body)
	}
}

func TestCycleIntervalAlias(t *testing.T) {
	path := writeConfig(t, "cycle_interval_sec: 600\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.Cycle.IntervalSec)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}

func TestDefaultPaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("hightrade_data", "hightrade.db"), cfg.App.DatabasePath())
	assert.Equal(t, filepath.Join("hightrade_data", "commands"), cfg.App.CommandsDir())
}
