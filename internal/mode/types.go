package mode

import (
	"errors"
	"fmt"
	"time"
)

// #region errors

var (
	// ErrInvalidReading is returned when a reading value is NaN or outside [0, 1].
	ErrInvalidReading = errors.New("invalid reading")
	// ErrInvalidConfig is returned for unusable controller configuration.
	ErrInvalidConfig = errors.New("invalid mode controller config")
	// ErrInvalidMode is returned when parsing an unknown mode name.
	ErrInvalidMode = errors.New("invalid mode")
)

// #endregion errors

// #region mode

// Mode is one of the four operating modes, ordered by intensity.
type Mode uint8

const (
	Idle Mode = iota
	Flow
	Deep
	Crisis
)

// Modes lists every mode from least to most intense.
var Modes = [...]Mode{Idle, Flow, Deep, Crisis}

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Flow:
		return "flow"
	case Deep:
		return "deep"
	case Crisis:
		return "crisis"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Valid reports whether m is one of the four defined modes.
func (m Mode) Valid() bool {
	return m <= Crisis
}

// ParseMode converts a persisted mode name back into a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if m.String() == s {
			return m, nil
		}
	}
	return Idle, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// #endregion mode

// #region controller-config

// Thresholds are the nominal upward boundaries between adjacent modes.
type Thresholds struct {
	IdleFlow   float64 // idle -> flow
	FlowDeep   float64 // flow -> deep
	DeepCrisis float64 // deep -> crisis
}

func (t Thresholds) ladder() [3]float64 {
	return [3]float64{t.IdleFlow, t.FlowDeep, t.DeepCrisis}
}

// ControllerConfig holds thresholds, hysteresis and trend parameters.
type ControllerConfig struct {
	Thresholds     Thresholds
	HysteresisBand float64       // subtracted from a threshold for downward moves
	Dwell          time.Duration // minimum time in a mode before de-escalating
	TrendDecay     float64       // EMA weight on the previous trend, in (0, 1)
	HistoryWindow  int           // recent readings kept for Stats/History
}

// DefaultControllerConfig returns the stock thresholds (0.3, 0.6, 0.8) with a
// 0.1 band, 1s dwell and 0.95 decay.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Thresholds: Thresholds{
			IdleFlow:   0.3,
			FlowDeep:   0.6,
			DeepCrisis: 0.8,
		},
		HysteresisBand: 0.1,
		Dwell:          time.Second,
		TrendDecay:     0.95,
		HistoryWindow:  10,
	}
}

// Validate checks ordering and ranges.
func (c ControllerConfig) Validate() error {
	t := c.Thresholds
	if !(t.IdleFlow > 0 && t.IdleFlow < t.FlowDeep && t.FlowDeep < t.DeepCrisis && t.DeepCrisis <= 1) {
		return fmt.Errorf("%w: thresholds must satisfy 0 < %.3f < %.3f < %.3f <= 1",
			ErrInvalidConfig, t.IdleFlow, t.FlowDeep, t.DeepCrisis)
	}
	if !(c.HysteresisBand >= 0 && c.HysteresisBand < t.IdleFlow) {
		return fmt.Errorf("%w: hysteresis band %.3f must be in [0, %.3f)", ErrInvalidConfig, c.HysteresisBand, t.IdleFlow)
	}
	if c.Dwell < 0 {
		return fmt.Errorf("%w: dwell %s is negative", ErrInvalidConfig, c.Dwell)
	}
	if !(c.TrendDecay > 0 && c.TrendDecay < 1) {
		return fmt.Errorf("%w: trend decay %.3f must be in (0, 1)", ErrInvalidConfig, c.TrendDecay)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("%w: history window %d is negative", ErrInvalidConfig, c.HistoryWindow)
	}
	return nil
}

// #endregion controller-config

// #region state

// TrendState is the exponentially decayed average of readings.
type TrendState struct {
	Current float64 `json:"current"`
	Decay   float64 `json:"decay"`
}

// ModeState is the controller's current mode and its timing.
type ModeState struct {
	Mode                  Mode      `json:"mode"`
	EnteredAt             time.Time `json:"entered_at"`
	LastTransitionAttempt time.Time `json:"last_transition_attempt"`
}

// Snapshot is everything needed to resume a controller.
type Snapshot struct {
	State ModeState  `json:"state"`
	Trend TrendState `json:"trend"`
}

// #endregion state

// #region evaluation

// Evaluation is the outcome of a single Evaluate call.
type Evaluation struct {
	State        ModeState
	Previous     Mode
	Candidate    Mode // mode the trend pointed at, committed or not
	Trend        float64
	Transitioned bool
	Debounced    bool // a de-escalation was held back by the dwell time
	Reason       string
}

// Stats summarises controller activity.
type Stats struct {
	Mode        Mode
	Trend       float64
	LastValue   float64
	HistoryLen  int
	TimeInMode  time.Duration
	Evaluations uint64
	Transitions uint64
	Debounced   uint64
}

// #endregion evaluation
