package mode

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/danielpatrickdp/phase-controller/internal/clock"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
)

// #region controller
// Controller owns the trend and mode state for a single stream of readings.
type Controller struct {
	mu     sync.Mutex
	config ControllerConfig
	clock  clock.Clock

	state   ModeState
	trend   TrendState
	history []float64
	last    float64

	evaluations uint64
	transitions uint64
	debounced   uint64
}

// NewController creates a controller in Idle with a zero trend.
func NewController(config ControllerConfig, clk clock.Clock) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Controller{config: config, clock: clk}
	c.resetLocked(clk.Now())
	return c, nil
}

// Config returns the controller's configuration.
func (c *Controller) Config() ControllerConfig {
	return c.config
}

// Evaluate folds a reading into the trend and decides whether to change mode.
// Escalations commit immediately; de-escalations wait out the dwell time.
func (c *Controller) Evaluate(r signals.Reading) (Evaluation, error) {
	if math.IsNaN(r.Value) || r.Value < 0 || r.Value > 1 {
		return Evaluation{}, fmt.Errorf("%w: value %v not in [0, 1]", ErrInvalidReading, r.Value)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.evaluations++
	c.observe(r.Value)

	prev := c.state.Mode
	candidate := c.candidate(c.trend.Current)
	ev := Evaluation{
		Previous:  prev,
		Candidate: candidate,
		Trend:     c.trend.Current,
	}

	switch {
	case candidate == prev:
		ev.Reason = fmt.Sprintf("hold %s: trend %.4f", prev, c.trend.Current)

	case candidate > prev:
		c.state.LastTransitionAttempt = now
		c.commit(candidate, now)
		ev.Transitioned = true
		ev.Reason = fmt.Sprintf("escalate %s -> %s: trend %.4f", prev, candidate, c.trend.Current)

	default:
		c.state.LastTransitionAttempt = now
		held := now.Sub(c.state.EnteredAt)
		if held < c.config.Dwell {
			c.debounced++
			ev.Debounced = true
			ev.Reason = fmt.Sprintf("debounce %s -> %s: held %s < dwell %s", prev, candidate, held, c.config.Dwell)
			break
		}
		c.commit(candidate, now)
		ev.Transitioned = true
		ev.Reason = fmt.Sprintf("de-escalate %s -> %s: trend %.4f", prev, candidate, c.trend.Current)
	}

	ev.State = c.state
	return ev, nil
}

// observe updates the EMA and the rolling history.
func (c *Controller) observe(v float64) {
	// v + d*(trend-v) is the same EMA as d*trend + (1-d)*v but cannot round past v.
	c.trend.Current = clampUnit(v + c.trend.Decay*(c.trend.Current-v))
	c.last = v

	if c.config.HistoryWindow == 0 {
		return
	}
	c.history = append(c.history, v)
	if over := len(c.history) - c.config.HistoryWindow; over > 0 {
		c.history = append(c.history[:0], c.history[over:]...)
	}
}

// candidate picks the mode the trend points at given the current mode.
func (c *Controller) candidate(trend float64) Mode {
	up := level(trend, c.config.Thresholds, 0)
	if up > c.state.Mode {
		return up
	}
	down := level(trend, c.config.Thresholds, c.config.HysteresisBand)
	if down < c.state.Mode {
		return down
	}
	return c.state.Mode
}

func (c *Controller) commit(m Mode, now time.Time) {
	c.state.Mode = m
	c.state.EnteredAt = now
	c.transitions++
}

// level counts the thresholds (lowered by band) that trend has reached.
func level(trend float64, t Thresholds, band float64) Mode {
	var m Mode
	for _, th := range t.ladder() {
		if trend < th-band {
			break
		}
		m++
	}
	return m
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion controller

// #region snapshot

// Snapshot returns the controller's mode and trend for persistence.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Trend: c.trend}
}

// Restore replaces mode and trend with a previously persisted snapshot.
// The configured decay always wins over the stored one.
func (c *Controller) Restore(s Snapshot) error {
	if !s.State.Mode.Valid() {
		return fmt.Errorf("restore: %w: %d", ErrInvalidMode, uint8(s.State.Mode))
	}
	if math.IsNaN(s.Trend.Current) || s.Trend.Current < 0 || s.Trend.Current > 1 {
		return fmt.Errorf("restore: %w: trend %v not in [0, 1]", ErrInvalidReading, s.Trend.Current)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s.State
	c.trend = TrendState{Current: s.Trend.Current, Decay: c.config.TrendDecay}
	return nil
}

// Checkpoint captures the full in-memory state, counters and history included.
type Checkpoint struct {
	state       ModeState
	trend       TrendState
	history     []float64
	last        float64
	evaluations uint64
	transitions uint64
	debounced   uint64
}

// Checkpoint returns a copy of the controller state that Rollback can reinstate.
func (c *Controller) Checkpoint() Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Checkpoint{
		state:       c.state,
		trend:       c.trend,
		history:     append([]float64(nil), c.history...),
		last:        c.last,
		evaluations: c.evaluations,
		transitions: c.transitions,
		debounced:   c.debounced,
	}
}

// Rollback undoes every evaluation made since cp was taken.
func (c *Controller) Rollback(cp Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = cp.state
	c.trend = cp.trend
	c.history = append(c.history[:0], cp.history...)
	c.last = cp.last
	c.evaluations = cp.evaluations
	c.transitions = cp.transitions
	c.debounced = cp.debounced
}

// #endregion snapshot

// #region stats

// Stats reports the current mode, trend and counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Mode:        c.state.Mode,
		Trend:       c.trend.Current,
		LastValue:   c.last,
		HistoryLen:  len(c.history),
		TimeInMode:  c.clock.Now().Sub(c.state.EnteredAt),
		Evaluations: c.evaluations,
		Transitions: c.transitions,
		Debounced:   c.debounced,
	}
}

// History returns the most recent reading values, oldest first.
func (c *Controller) History() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.history))
	copy(out, c.history)
	return out
}

// Reset returns the controller to Idle with a zero trend and cleared counters.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(c.clock.Now())
}

func (c *Controller) resetLocked(now time.Time) {
	c.state = ModeState{Mode: Idle, EnteredAt: now}
	c.trend = TrendState{Decay: c.config.TrendDecay}
	c.history = nil
	c.last = 0
	c.evaluations = 0
	c.transitions = 0
	c.debounced = 0
}

// #endregion stats
