package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/phase-controller/internal/mode"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phase.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, mode.DefaultControllerConfig(), cfg.ControllerConfig())
	assert.Equal(t, 384, cfg.EngineConfig().Dimension)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
agent:
  id: agent-7
signal:
  dimension: 512
  lensing:
    emotional_weight: 0.2
mode:
  thresholds:
    idle_flow: 0.25
    flow_deep: 0.5
    deep_crisis: 0.75
  hysteresis_band: 0.05
  dwell: 2500ms
  trend_decay: 0.9
codec:
  addr: localhost:50051
logging:
  level: debug
  json: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "agent-7", cfg.Agent.ID)
	assert.Equal(t, 512, cfg.EngineConfig().Dimension)
	assert.Equal(t, 0.2, cfg.EngineConfig().Lensing.EmotionalWeight)

	mc := cfg.ControllerConfig()
	assert.Equal(t, mode.Thresholds{IdleFlow: 0.25, FlowDeep: 0.5, DeepCrisis: 0.75}, mc.Thresholds)
	assert.Equal(t, 0.05, mc.HysteresisBand)
	assert.Equal(t, 2500*time.Millisecond, mc.Dwell)
	assert.Equal(t, 0.9, mc.TrendDecay)
	assert.Equal(t, 10, mc.HistoryWindow)

	assert.Equal(t, "localhost:50051", cfg.Codec.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.JSON)
	assert.Equal(t, "phase.db", cfg.Storage.StateDB)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "agent:\n  id: from-file\n")
	t.Setenv("VSP_AGENT_ID", "from-env")
	t.Setenv("VSP_DWELL", "750")
	t.Setenv("VSP_TREND_DECAY", "0.8")
	t.Setenv("VSP_LOG_JSON", "no")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Agent.ID)
	assert.Equal(t, 750*time.Millisecond, cfg.Mode.Dwell)
	assert.Equal(t, 0.8, cfg.Mode.TrendDecay)
	assert.False(t, cfg.Logging.JSON)
	assert.Equal(t, 10, cfg.Mode.HistoryWindow)
}

func TestLoad_MalformedEnv(t *testing.T) {
	cases := map[string][2]string{
		"float":    {"VSP_TREND_DECAY", "abc"},
		"int":      {"VSP_HISTORY_WINDOW", "not-a-number"},
		"duration": {"VSP_DWELL", "soon"},
		"bool":     {"VSP_LOG_JSON", "maybe"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load(writeConfig(t, "agent:\n  id: from-file\n"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
			assert.Contains(t, err.Error(), kv[0])
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"thresholds out of order": "mode:\n  thresholds:\n    flow_deep: 0.9\n",
		"band too wide":           "mode:\n  hysteresis_band: 0.4\n",
		"decay of one":            "mode:\n  trend_decay: 1\n",
		"zero dimension":          "signal:\n  dimension: 0\n",
		"empty agent":             "agent:\n  id: \"\"\n",
		"unknown log level":       "logging:\n  level: loud\n",
		"bad codec addr":          "codec:\n  addr: not an address\n",
		"lensing weight too big":  "signal:\n  lensing:\n    causal_weight: 3\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "mode: [unclosed"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}
