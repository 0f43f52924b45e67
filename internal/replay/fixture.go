package replay

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
)

// #region fixture-types
// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string           `json:"description"`
	StartTime   time.Time        `json:"start_time"`
	Start       *FixtureStart    `json:"start,omitempty"`
	Config      FixtureConfig    `json:"config"`
	Readings    []FixtureReading `json:"readings"`
	Expected    []Expected       `json:"expected"`
}

// FixtureStart is an optional controller state to resume from.
type FixtureStart struct {
	Mode        mode.Mode `json:"mode"`
	Trend       float64   `json:"trend"`
	EnteredAtMS int64     `json:"entered_at_ms"`
}

// FixtureConfig mirrors mode.ControllerConfig with JSON tags.
type FixtureConfig struct {
	IdleFlow       float64 `json:"idle_flow"`
	FlowDeep       float64 `json:"flow_deep"`
	DeepCrisis     float64 `json:"deep_crisis"`
	HysteresisBand float64 `json:"hysteresis_band"`
	DwellMS        int64   `json:"dwell_ms"`
	TrendDecay     float64 `json:"trend_decay"`
	HistoryWindow  int     `json:"history_window"`
}

// FixtureReading is one reading at a millisecond offset from StartTime.
type FixtureReading struct {
	ID       string  `json:"id"`
	OffsetMS int64   `json:"offset_ms"`
	Value    float64 `json:"value"`
}

// Expected is the expected outcome for one reading. An empty Action is not checked.
type Expected struct {
	ID     string    `json:"id"`
	Mode   mode.Mode `json:"mode"`
	Action string    `json:"action,omitempty"`
}

// Mismatch describes one result that differs from its expectation.
type Mismatch struct {
	Index int
	ID    string
	Field string
	Want  string
	Got   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("reading %d (%s): %s want %s, got %s", m.Index, m.ID, m.Field, m.Want, m.Got)
}
// #endregion fixture-types

// #region fixture-loader
// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToControllerConfig converts the fixture config. Zero fields take the defaults.
func (fc FixtureConfig) ToControllerConfig() mode.ControllerConfig {
	cfg := mode.DefaultControllerConfig()
	if fc.IdleFlow != 0 {
		cfg.Thresholds.IdleFlow = fc.IdleFlow
	}
	if fc.FlowDeep != 0 {
		cfg.Thresholds.FlowDeep = fc.FlowDeep
	}
	if fc.DeepCrisis != 0 {
		cfg.Thresholds.DeepCrisis = fc.DeepCrisis
	}
	if fc.HysteresisBand != 0 {
		cfg.HysteresisBand = fc.HysteresisBand
	}
	if fc.DwellMS != 0 {
		cfg.Dwell = time.Duration(fc.DwellMS) * time.Millisecond
	}
	if fc.TrendDecay != 0 {
		cfg.TrendDecay = fc.TrendDecay
	}
	if fc.HistoryWindow != 0 {
		cfg.HistoryWindow = fc.HistoryWindow
	}
	return cfg
}

// StartSnapshot returns the fixture's start state, or a zero snapshot.
func (f *Fixture) StartSnapshot() mode.Snapshot {
	if f.Start == nil {
		return mode.Snapshot{}
	}
	entered := f.StartTime.Add(time.Duration(f.Start.EnteredAtMS) * time.Millisecond)
	return mode.Snapshot{
		State: mode.ModeState{Mode: f.Start.Mode, EnteredAt: entered},
		Trend: mode.TrendState{Current: f.Start.Trend},
	}
}

// Events converts fixture readings to replay events.
func (f *Fixture) Events() []Event {
	events := make([]Event, len(f.Readings))
	for i, r := range f.Readings {
		events[i] = Event{
			ID:    r.ID,
			At:    f.StartTime.Add(time.Duration(r.OffsetMS) * time.Millisecond),
			Value: r.Value,
		}
	}
	return events
}
// #endregion fixture-loader

// #region audit
// FromAudit rebuilds the reading stream recorded for agentID, oldest first,
// along with the mode the live controller reported after each reading.
func FromAudit(db *sql.DB, agentID string, limit int) ([]Event, []Expected, error) {
	entries, err := logging.ListReadings(db, agentID, limit)
	if err != nil {
		return nil, nil, err
	}
	events := make([]Event, len(entries))
	expected := make([]Expected, len(entries))
	for i, e := range entries {
		id := strconv.FormatInt(e.ID, 10)
		events[i] = Event{ID: id, At: e.CreatedAt, Value: e.Value}
		expected[i] = Expected{ID: id, Mode: e.Mode}
	}
	return events, expected, nil
}
// #endregion audit

// #region check
// Check compares results against expectations in order.
func Check(results []ReplayResult, expected []Expected) []Mismatch {
	var out []Mismatch
	if len(results) != len(expected) {
		out = append(out, Mismatch{
			Index: -1,
			Field: "count",
			Want:  strconv.Itoa(len(expected)),
			Got:   strconv.Itoa(len(results)),
		})
	}
	n := min(len(results), len(expected))
	for i := 0; i < n; i++ {
		r, e := results[i], expected[i]
		if r.ID != e.ID {
			out = append(out, Mismatch{Index: i, ID: e.ID, Field: "id", Want: e.ID, Got: r.ID})
		}
		if r.Mode != e.Mode {
			out = append(out, Mismatch{Index: i, ID: e.ID, Field: "mode", Want: e.Mode.String(), Got: r.Mode.String()})
		}
		if e.Action != "" && r.Action != e.Action {
			out = append(out, Mismatch{Index: i, ID: e.ID, Field: "action", Want: e.Action, Got: r.Action})
		}
	}
	return out
}
// #endregion check
