package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New()

// #region config-types

// Config is the full controller configuration as read from YAML.
type Config struct {
	Agent   AgentConfig       `yaml:"agent"`
	Signal  SignalConfig      `yaml:"signal"`
	Mode    ModeConfig        `yaml:"mode"`
	Storage StorageConfig     `yaml:"storage"`
	Codec   CodecConfig       `yaml:"codec"`
	Metrics MetricsConfig     `yaml:"metrics"`
	Logging logging.LogConfig `yaml:"logging"`
}

// AgentConfig names the stream a controller process owns.
type AgentConfig struct {
	ID string `yaml:"id" validate:"required"`
}

// SignalConfig configures the V_SP engine.
type SignalConfig struct {
	Dimension int           `yaml:"dimension" validate:"gt=0"`
	Lensing   LensingConfig `yaml:"lensing"`
}

// LensingConfig holds the per-term weights applied to lensing inputs.
type LensingConfig struct {
	EmotionalWeight float64 `yaml:"emotional_weight" validate:"gte=-1,lte=1"`
	CausalWeight    float64 `yaml:"causal_weight" validate:"gte=-1,lte=1"`
}

// ModeConfig configures thresholds, hysteresis and trend smoothing.
type ModeConfig struct {
	Thresholds     ThresholdsConfig `yaml:"thresholds"`
	HysteresisBand float64          `yaml:"hysteresis_band" validate:"gte=0"`
	Dwell          time.Duration    `yaml:"dwell" validate:"gte=0"`
	TrendDecay     float64          `yaml:"trend_decay" validate:"gt=0,lt=1"`
	HistoryWindow  int              `yaml:"history_window" validate:"gte=0"`
}

// ThresholdsConfig holds the upward mode boundaries.
type ThresholdsConfig struct {
	IdleFlow   float64 `yaml:"idle_flow" validate:"gt=0,lte=1"`
	FlowDeep   float64 `yaml:"flow_deep" validate:"gt=0,lte=1"`
	DeepCrisis float64 `yaml:"deep_crisis" validate:"gt=0,lte=1"`
}

// StorageConfig locates the state database and schema basis files.
type StorageConfig struct {
	StateDB   string `yaml:"state_db" validate:"required"`
	BasisDir  string `yaml:"basis_dir"`
	BasisFile string `yaml:"basis_file"`
}

// CodecConfig points at the embedding sidecar. An empty Addr disables text input.
type CodecConfig struct {
	Addr    string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// MetricsConfig sets the Prometheus listen address. Empty disables the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// #endregion config-types

// #region defaults

// Default returns the stock configuration.
func Default() Config {
	mc := mode.DefaultControllerConfig()
	return Config{
		Agent:  AgentConfig{ID: "default"},
		Signal: SignalConfig{Dimension: signals.DefaultEngineConfig().Dimension},
		Mode: ModeConfig{
			Thresholds: ThresholdsConfig{
				IdleFlow:   mc.Thresholds.IdleFlow,
				FlowDeep:   mc.Thresholds.FlowDeep,
				DeepCrisis: mc.Thresholds.DeepCrisis,
			},
			HysteresisBand: mc.HysteresisBand,
			Dwell:          mc.Dwell,
			TrendDecay:     mc.TrendDecay,
			HistoryWindow:  mc.HistoryWindow,
		},
		Storage: StorageConfig{
			StateDB:  "phase.db",
			BasisDir: "basis.badger",
		},
		Codec:   CodecConfig{Timeout: 10 * time.Second},
		Metrics: MetricsConfig{Addr: ":9464"},
		Logging: logging.DefaultLogConfig(),
	}
}

// #endregion defaults

// #region load

// Load reads defaults, then the YAML file at path (if any), then VSP_*
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays VSP_* variables. A set but unparsable value fails the load.
func (c *Config) applyEnv() error {
	var e envReader
	c.Agent.ID = e.str("VSP_AGENT_ID", c.Agent.ID)

	c.Signal.Dimension = e.int("VSP_SIGNAL_DIMENSION", c.Signal.Dimension)
	c.Signal.Lensing.EmotionalWeight = e.float("VSP_EMOTIONAL_WEIGHT", c.Signal.Lensing.EmotionalWeight)
	c.Signal.Lensing.CausalWeight = e.float("VSP_CAUSAL_WEIGHT", c.Signal.Lensing.CausalWeight)

	c.Mode.Thresholds.IdleFlow = e.float("VSP_THRESHOLD_IDLE_FLOW", c.Mode.Thresholds.IdleFlow)
	c.Mode.Thresholds.FlowDeep = e.float("VSP_THRESHOLD_FLOW_DEEP", c.Mode.Thresholds.FlowDeep)
	c.Mode.Thresholds.DeepCrisis = e.float("VSP_THRESHOLD_DEEP_CRISIS", c.Mode.Thresholds.DeepCrisis)
	c.Mode.HysteresisBand = e.float("VSP_HYSTERESIS_BAND", c.Mode.HysteresisBand)
	c.Mode.Dwell = e.duration("VSP_DWELL", c.Mode.Dwell)
	c.Mode.TrendDecay = e.float("VSP_TREND_DECAY", c.Mode.TrendDecay)
	c.Mode.HistoryWindow = e.int("VSP_HISTORY_WINDOW", c.Mode.HistoryWindow)

	c.Storage.StateDB = e.str("VSP_STATE_DB", c.Storage.StateDB)
	c.Storage.BasisDir = e.str("VSP_BASIS_DIR", c.Storage.BasisDir)
	c.Storage.BasisFile = e.str("VSP_BASIS_FILE", c.Storage.BasisFile)

	c.Codec.Addr = e.str("VSP_CODEC_ADDR", c.Codec.Addr)
	c.Codec.Timeout = e.duration("VSP_CODEC_TIMEOUT", c.Codec.Timeout)
	c.Metrics.Addr = e.str("VSP_METRICS_ADDR", c.Metrics.Addr)

	c.Logging.Level = e.str("VSP_LOG_LEVEL", c.Logging.Level)
	c.Logging.JSON = e.bool("VSP_LOG_JSON", c.Logging.JSON)
	return e.err
}

// #endregion load

// #region validate

// Validate runs struct tag checks and the cross-field threshold rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.ControllerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// #endregion validate

// #region projections

// EngineConfig projects the signal section into an engine config.
func (c Config) EngineConfig() signals.EngineConfig {
	return signals.EngineConfig{
		Dimension: c.Signal.Dimension,
		Lensing: signals.LensingConfig{
			EmotionalWeight: c.Signal.Lensing.EmotionalWeight,
			CausalWeight:    c.Signal.Lensing.CausalWeight,
		},
	}
}

// ControllerConfig projects the mode section into a controller config.
func (c Config) ControllerConfig() mode.ControllerConfig {
	return mode.ControllerConfig{
		Thresholds: mode.Thresholds{
			IdleFlow:   c.Mode.Thresholds.IdleFlow,
			FlowDeep:   c.Mode.Thresholds.FlowDeep,
			DeepCrisis: c.Mode.Thresholds.DeepCrisis,
		},
		HysteresisBand: c.Mode.HysteresisBand,
		Dwell:          c.Mode.Dwell,
		TrendDecay:     c.Mode.TrendDecay,
		HistoryWindow:  c.Mode.HistoryWindow,
	}
}

// #endregion projections

// #region env-helpers

// envReader parses environment overrides and keeps the first failure.
type envReader struct {
	err error
}

func (e *envReader) fail(key, val, want string) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q is not a valid %s", ErrInvalidConfig, key, val, want)
	}
}

func (e *envReader) str(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func (e *envReader) int(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.fail(key, val, "integer")
		return defaultVal
	}
	return i
}

func (e *envReader) float(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.fail(key, val, "number")
		return defaultVal
	}
	return f
}

func (e *envReader) bool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	e.fail(key, val, "boolean")
	return defaultVal
}

func (e *envReader) duration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	// Bare integers are milliseconds.
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	e.fail(key, val, "duration")
	return defaultVal
}

// #endregion env-helpers
