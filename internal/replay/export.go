package replay

import (
	"fmt"

	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

// #region start-state
// StartFromStore returns the agent's first version, the state that preceded
// every recorded reading.
func StartFromStore(store *state.Store, agentID string) (mode.Snapshot, error) {
	versions, err := store.ListVersions(agentID, -1)
	if err != nil {
		return mode.Snapshot{}, err
	}
	if len(versions) == 0 {
		return mode.Snapshot{}, fmt.Errorf("agent %s: %w", agentID, state.ErrNotFound)
	}
	return versions[len(versions)-1].Snapshot(), nil
}
// #endregion start-state

// #region export
// NewFixtureConfig is the inverse of ToControllerConfig.
func NewFixtureConfig(cfg mode.ControllerConfig) FixtureConfig {
	return FixtureConfig{
		IdleFlow:       cfg.Thresholds.IdleFlow,
		FlowDeep:       cfg.Thresholds.FlowDeep,
		DeepCrisis:     cfg.Thresholds.DeepCrisis,
		HysteresisBand: cfg.HysteresisBand,
		DwellMS:        cfg.Dwell.Milliseconds(),
		TrendDecay:     cfg.TrendDecay,
		HistoryWindow:  cfg.HistoryWindow,
	}
}

// ExportFixture packs a recorded stream into a fixture. Expected actions are
// filled in only where the mode changed, since a hold and a debounced attempt
// look the same in the reading log.
func ExportFixture(start mode.Snapshot, events []Event, expected []Expected, cfg mode.ControllerConfig) Fixture {
	f := Fixture{
		Config:   NewFixtureConfig(cfg),
		Readings: make([]FixtureReading, len(events)),
		Expected: make([]Expected, len(expected)),
	}

	prev := mode.Idle
	if start.State.EnteredAt.IsZero() {
		if len(events) > 0 {
			f.StartTime = events[0].At
		}
	} else {
		f.StartTime = start.State.EnteredAt
		f.Start = &FixtureStart{Mode: start.State.Mode, Trend: start.Trend.Current}
		prev = start.State.Mode
	}

	for i, e := range events {
		f.Readings[i] = FixtureReading{
			ID:       e.ID,
			OffsetMS: e.At.Sub(f.StartTime).Milliseconds(),
			Value:    e.Value,
		}
	}
	for i, e := range expected {
		e.Action = ""
		switch {
		case e.Mode > prev:
			e.Action = ActionEscalate
		case e.Mode < prev:
			e.Action = ActionDeEscalate
		}
		prev = e.Mode
		f.Expected[i] = e
	}
	f.Description = fmt.Sprintf("Recorded stream: %d readings", len(events))
	return f
}
// #endregion export
