package replay

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// #region fixture-tests
func runFixture(t *testing.T, name string) ([]ReplayResult, mode.Snapshot, *Fixture) {
	t.Helper()
	f, err := LoadFixture(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	results, final, err := Replay(f.StartSnapshot(), f.Events(), f.Config.ToControllerConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	return results, final, f
}

func TestFixture_CrisisSpike(t *testing.T) {
	results, final, f := runFixture(t, "crisis_spike.json")

	for _, m := range Check(results, f.Expected) {
		t.Error(m)
	}

	summary := Summarize(results, final)
	want := ReplaySummary{
		TotalReadings: 6,
		Escalations:   2,
		DeEscalations: 1,
		Debounced:     2,
		Rejected:      1,
		FinalState:    final,
	}
	if diff := cmp.Diff(want, summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if final.State.Mode != mode.Flow {
		t.Errorf("expected final mode flow, got %s", final.State.Mode)
	}
}

func TestFixture_BoundaryOscillation(t *testing.T) {
	results, _, f := runFixture(t, "boundary_oscillation.json")
	for _, m := range Check(results, f.Expected) {
		t.Error(m)
	}
}
// #endregion fixture-tests

// #region replay-tests
func TestReplay_ResumesFromStart(t *testing.T) {
	start := mode.Snapshot{
		State: mode.ModeState{Mode: mode.Deep, EnteredAt: epoch},
		Trend: mode.TrendState{Current: 0.65},
	}
	events := []Event{
		{ID: "a", At: epoch.Add(100 * time.Millisecond), Value: 0},
		{ID: "b", At: epoch.Add(2 * time.Second), Value: 0},
	}
	cfg := mode.DefaultControllerConfig()
	cfg.TrendDecay = 0.05

	results, final, err := Replay(start, events, cfg)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got := []string{results[0].Action, results[1].Action}
	if diff := cmp.Diff([]string{ActionDebounce, ActionDeEscalate}, got); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	if final.State.Mode != mode.Idle {
		t.Errorf("expected idle, got %s", final.State.Mode)
	}
}

func TestReplay_InvalidConfig(t *testing.T) {
	cfg := mode.DefaultControllerConfig()
	cfg.TrendDecay = 2
	if _, _, err := Replay(mode.Snapshot{}, nil, cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestReplay_Empty(t *testing.T) {
	results, final, err := Replay(mode.Snapshot{}, nil, mode.DefaultControllerConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != 0 || final.State.Mode != mode.Idle {
		t.Fatalf("unexpected replay of nothing: %v %+v", results, final)
	}
}

func TestCheck_ReportsMismatches(t *testing.T) {
	results := []ReplayResult{{ID: "a", Mode: mode.Flow, Action: ActionEscalate}}
	expected := []Expected{
		{ID: "a", Mode: mode.Deep, Action: ActionHold},
		{ID: "b", Mode: mode.Idle},
	}

	got := Check(results, expected)
	fields := make([]string, len(got))
	for i, m := range got {
		fields[i] = m.Field
	}
	if diff := cmp.Diff([]string{"count", "mode", "action"}, fields); diff != "" {
		t.Errorf("mismatch fields (-want +got):\n%s", diff)
	}
}
// #endregion replay-tests

// #region audit-tests
func TestFromAudit_ReplaysRecordedStream(t *testing.T) {
	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	cfg := mode.DefaultControllerConfig()
	cfg.TrendDecay = 0.05

	// Record what a live controller saw.
	values := []float64{0.9, 0.0, 0.0, 0.4}
	offsets := []time.Duration{0, 200 * time.Millisecond, 1500 * time.Millisecond, 1600 * time.Millisecond}
	live, _, err := Replay(mode.Snapshot{}, eventsAt(values, offsets), cfg)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for i, r := range live {
		entry := logging.ReadingEntry{
			AgentID:   "agent-a",
			Value:     r.Value,
			Trend:     r.Trend,
			Mode:      r.Mode,
			CreatedAt: epoch.Add(offsets[i]),
		}
		if err := logging.LogReading(store.DB(), entry); err != nil {
			t.Fatalf("LogReading: %v", err)
		}
	}

	events, expected, err := FromAudit(store.DB(), "agent-a", 0)
	if err != nil {
		t.Fatalf("FromAudit: %v", err)
	}
	if len(events) != len(values) {
		t.Fatalf("expected %d events, got %d", len(values), len(events))
	}

	results, _, err := Replay(mode.Snapshot{}, events, cfg)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for _, m := range Check(results, expected) {
		t.Error(m)
	}
}

func eventsAt(values []float64, offsets []time.Duration) []Event {
	events := make([]Event, len(values))
	for i := range values {
		events[i] = Event{ID: string(rune('a' + i)), At: epoch.Add(offsets[i]), Value: values[i]}
	}
	return events
}
// #endregion audit-tests
