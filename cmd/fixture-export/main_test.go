package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/replay"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, dir string) (dbPath, configPath string) {
	t.Helper()
	dbPath = filepath.Join(dir, "state.db")
	configPath = filepath.Join(dir, "phase.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("agent:\n  id: agent-a\nmode:\n  trend_decay: 0.05\n"), 0o644))

	store, err := state.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.CreateInitialState("agent-a", mode.Snapshot{State: mode.ModeState{Mode: mode.Idle, EnteredAt: epoch}})
	require.NoError(t, err)

	readings := []struct {
		at    time.Duration
		value float64
		mode  mode.Mode
	}{
		{0, 0.9, mode.Crisis},
		{500 * time.Millisecond, 0, mode.Crisis},
		{1100 * time.Millisecond, 0, mode.Idle},
	}
	for _, r := range readings {
		require.NoError(t, logging.LogReading(store.DB(), logging.ReadingEntry{
			AgentID:   "agent-a",
			Value:     r.value,
			Mode:      r.mode,
			CreatedAt: epoch.Add(r.at),
		}))
	}
	return dbPath, configPath
}

func TestRun_ExportedFixtureReplaysClean(t *testing.T) {
	dir := t.TempDir()
	dbPath, configPath := seed(t, dir)
	outPath := filepath.Join(dir, "fixture.json")

	var stdout bytes.Buffer
	require.NoError(t, run(configPath, dbPath, "", 0, outPath, &stdout))
	assert.Contains(t, stdout.String(), "Found 3 readings for agent-a")

	f, err := replay.LoadFixture(outPath)
	require.NoError(t, err)
	require.NotNil(t, f.Start)
	assert.Equal(t, mode.Idle, f.Start.Mode)
	assert.Equal(t, 0.05, f.Config.TrendDecay)
	require.Len(t, f.Readings, 3)
	assert.Equal(t, int64(1100), f.Readings[2].OffsetMS)

	results, _, err := replay.Replay(f.StartSnapshot(), f.Events(), f.Config.ToControllerConfig())
	require.NoError(t, err)
	assert.Empty(t, replay.Check(results, f.Expected))
	assert.Equal(t, replay.ActionDebounce, results[1].Action)
}

func TestRun_NoReadings(t *testing.T) {
	dir := t.TempDir()
	dbPath, configPath := seed(t, dir)

	err := run(configPath, dbPath, "nobody", 5, filepath.Join(dir, "out.json"), &bytes.Buffer{})
	assert.ErrorContains(t, err, "no readings recorded for nobody")
}

func TestRun_MissingDB(t *testing.T) {
	dir := t.TempDir()
	err := run(filepath.Join(dir, "phase.yaml"), filepath.Join(dir, "absent.db"), "a", 0, filepath.Join(dir, "out.json"), &bytes.Buffer{})
	assert.Error(t, err)
}
