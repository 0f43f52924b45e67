package replay

import (
	"time"

	"github.com/danielpatrickdp/phase-controller/internal/clock"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
)

// Actions reported per replayed reading.
const (
	ActionHold       = "hold"
	ActionEscalate   = "escalate"
	ActionDeEscalate = "de_escalate"
	ActionDebounce   = "debounce"
	ActionReject     = "reject"
)

// #region types
// Event is a single recorded reading to replay.
type Event struct {
	ID    string
	At    time.Time
	Value float64
}

// ReplayResult captures the controller's response to one event.
type ReplayResult struct {
	ID         string
	Value      float64
	Action     string
	Mode       mode.Mode // mode after the event
	Trend      float64
	Reason     string
	Evaluation mode.Evaluation // zero when rejected
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalReadings int
	Holds         int
	Escalations   int
	DeEscalations int
	Debounced     int
	Rejected      int
	FinalState    mode.Snapshot
}
// #endregion types

// #region replay
// Replay runs events through a fresh controller driven by a manual clock.
// A start snapshot with a zero EnteredAt means "begin in Idle at the first event".
func Replay(start mode.Snapshot, events []Event, config mode.ControllerConfig) ([]ReplayResult, mode.Snapshot, error) {
	origin := start.State.EnteredAt
	if origin.IsZero() && len(events) > 0 {
		origin = events[0].At
	}
	clk := clock.NewManual(origin)

	ctrl, err := mode.NewController(config, clk)
	if err != nil {
		return nil, mode.Snapshot{}, err
	}
	if !start.State.EnteredAt.IsZero() {
		if err := ctrl.Restore(start); err != nil {
			return nil, mode.Snapshot{}, err
		}
	}

	results := make([]ReplayResult, 0, len(events))
	for _, e := range events {
		clk.Set(e.At)
		ev, err := ctrl.Evaluate(signals.Reading{Value: e.Value, Timestamp: e.At})
		if err != nil {
			snap := ctrl.Snapshot()
			results = append(results, ReplayResult{
				ID:     e.ID,
				Value:  e.Value,
				Action: ActionReject,
				Mode:   snap.State.Mode,
				Trend:  snap.Trend.Current,
				Reason: err.Error(),
			})
			continue
		}
		results = append(results, ReplayResult{
			ID:         e.ID,
			Value:      e.Value,
			Action:     action(ev),
			Mode:       ev.State.Mode,
			Trend:      ev.Trend,
			Reason:     ev.Reason,
			Evaluation: ev,
		})
	}
	return results, ctrl.Snapshot(), nil
}

func action(ev mode.Evaluation) string {
	switch {
	case ev.Debounced:
		return ActionDebounce
	case !ev.Transitioned:
		return ActionHold
	case ev.State.Mode > ev.Previous:
		return ActionEscalate
	default:
		return ActionDeEscalate
	}
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, final mode.Snapshot) ReplaySummary {
	s := ReplaySummary{
		TotalReadings: len(results),
		FinalState:    final,
	}
	for _, r := range results {
		switch r.Action {
		case ActionHold:
			s.Holds++
		case ActionEscalate:
			s.Escalations++
		case ActionDeEscalate:
			s.DeEscalations++
		case ActionDebounce:
			s.Debounced++
		case ActionReject:
			s.Rejected++
		}
	}
	return s
}
// #endregion replay
