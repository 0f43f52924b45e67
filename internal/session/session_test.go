package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/danielpatrickdp/phase-controller/internal/clock"
	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/metrics"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

// #region fixture

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	session *Session
	ctrl    *mode.Controller
	store   *state.Store
	clk     *clock.Manual
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func newStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newFixture(t *testing.T, store *state.Store, cfg mode.ControllerConfig, embedder Embedder) *fixture {
	t.Helper()
	clk := clock.NewManual(epoch)

	engine, err := signals.NewEngine(signals.EngineConfig{Dimension: 2}, clk)
	require.NoError(t, err)
	ctrl, err := mode.NewController(cfg, clk)
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	m := metrics.New(prometheus.NewRegistry())

	s, err := New(Deps{
		AgentID:    "agent-a",
		Engine:     engine,
		Controller: ctrl,
		Store:      store,
		Metrics:    m,
		Logger:     zap.New(core),
		Embedder:   embedder,
		Clock:      clk,
	})
	require.NoError(t, err)

	_, err = s.UpdateBasis([][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)

	return &fixture{session: s, ctrl: ctrl, store: store, clk: clk, metrics: m, logs: logs}
}

func fastConfig() mode.ControllerConfig {
	cfg := mode.DefaultControllerConfig()
	cfg.TrendDecay = 0.05
	return cfg
}

// opposite points away from both frames, so V_SP is 1.
var opposite = []float32{-1, -1}

// #endregion fixture

// #region step-tests

func TestStep_NearestFrameScenario(t *testing.T) {
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), nil)
	ctx := context.Background()

	out, err := f.session.Step(ctx, []float32{1, 0}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Reading.Value, 1e-6)
	assert.Equal(t, 0, out.Reading.MatchIndex)
	assert.Equal(t, mode.Idle, out.Evaluation.State.Mode)

	for i := 0; i < 5; i++ {
		f.clk.Advance(time.Second)
		out, err = f.session.Step(ctx, []float32{0, 1}, nil)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, out.Reading.Value, 1e-6)
		assert.Equal(t, 1, out.Reading.MatchIndex)
		assert.Equal(t, mode.Idle, out.Evaluation.State.Mode)
	}
}

func TestStep_EscalationIsPersistedAndAudited(t *testing.T) {
	f := newFixture(t, newStore(t), fastConfig(), nil)

	out, err := f.session.Step(context.Background(), opposite, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.Reading.Value, 1e-6)
	assert.Equal(t, mode.Crisis, out.Evaluation.State.Mode)

	cur, err := f.store.GetCurrent("agent-a")
	require.NoError(t, err)
	assert.Equal(t, out.VersionID, cur.VersionID)
	assert.Equal(t, mode.Crisis, cur.Mode)
	assert.Equal(t, out.Reading.BasisID, cur.BasisID)

	readings, err := logging.ListReadings(f.store.DB(), "agent-a", 0)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, mode.Crisis, readings[0].Mode)

	transitions, err := logging.ListTransitions(f.store.DB(), "agent-a", 0)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, mode.Idle, transitions[0].From)
	assert.Equal(t, mode.Crisis, transitions[0].To)
	assert.Equal(t, out.VersionID, transitions[0].VersionID)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("agent-a", "idle", "crisis")))
	assert.Equal(t, 1, f.logs.FilterMessage("mode transition").Len())
}

func TestStep_DebouncedAttemptIsAudited(t *testing.T) {
	f := newFixture(t, newStore(t), fastConfig(), nil)
	ctx := context.Background()

	_, err := f.session.Step(ctx, opposite, nil)
	require.NoError(t, err)

	f.clk.Advance(100 * time.Millisecond)
	out, err := f.session.Step(ctx, []float32{1, 0}, nil)
	require.NoError(t, err)
	assert.True(t, out.Evaluation.Debounced)
	assert.Equal(t, mode.Crisis, out.Evaluation.State.Mode)

	transitions, err := logging.ListTransitions(f.store.DB(), "agent-a", 0)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.True(t, transitions[1].Debounced)
	assert.Empty(t, transitions[1].VersionID)
	assert.Equal(t, mode.Idle, transitions[1].To)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Debounced.WithLabelValues("agent-a")))
	assert.Equal(t, 1, f.logs.FilterMessage("transition debounced").Len())
}

func TestStep_DimensionMismatchRejected(t *testing.T) {
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), nil)
	before, err := f.store.GetCurrent("agent-a")
	require.NoError(t, err)

	_, err = f.session.Step(context.Background(), []float32{1, 0, 0}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, signals.ErrDimensionMismatch))

	assert.Equal(t, uint64(0), f.ctrl.Stats().Evaluations)
	after, err := f.store.GetCurrent("agent-a")
	require.NoError(t, err)
	assert.Equal(t, before.VersionID, after.VersionID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("agent-a", metrics.ReasonDimension)))
	assert.Equal(t, 1, f.logs.FilterMessage("input rejected").Len())
}

func TestStep_InvalidLensingRejected(t *testing.T) {
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), nil)

	_, err := f.session.Step(context.Background(), []float32{1, 0}, &signals.LensingWeights{Emotional: 2})
	assert.True(t, errors.Is(err, signals.ErrInvalidLensing))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("agent-a", metrics.ReasonLensing)))
}

func TestStep_StorageFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, newStore(t), fastConfig(), nil)
	ctx := context.Background()

	_, err := f.session.Step(ctx, []float32{1, 0}, nil)
	require.NoError(t, err)

	snap := f.ctrl.Snapshot()
	stats := f.ctrl.Stats()
	history := f.ctrl.History()
	before, err := f.store.GetCurrent("agent-a")
	require.NoError(t, err)
	var versions int
	require.NoError(t, f.store.DB().QueryRow(`SELECT COUNT(*) FROM mode_versions`).Scan(&versions))

	_, err = f.store.DB().Exec(`DROP TABLE vsp_readings`)
	require.NoError(t, err)

	f.clk.Advance(time.Second)
	out, err := f.session.Step(ctx, opposite, nil)
	require.Error(t, err)
	assert.Empty(t, out.VersionID)

	assert.Equal(t, snap, f.ctrl.Snapshot())
	assert.Equal(t, stats.Evaluations, f.ctrl.Stats().Evaluations)
	assert.Equal(t, stats.Transitions, f.ctrl.Stats().Transitions)
	assert.Equal(t, history, f.ctrl.History())

	after, err := f.store.GetCurrent("agent-a")
	require.NoError(t, err)
	assert.Equal(t, before.VersionID, after.VersionID)
	assert.Equal(t, before.VersionID, f.session.Status().VersionID)
	var count int
	require.NoError(t, f.store.DB().QueryRow(`SELECT COUNT(*) FROM mode_versions`).Scan(&count))
	assert.Equal(t, versions, count)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("agent-a", metrics.ReasonStorage)))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("agent-a", "idle", "crisis")))
}

func TestStep_CanceledContext(t *testing.T) {
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.session.Step(ctx, []float32{1, 0}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, uint64(0), f.ctrl.Stats().Evaluations)
}

// #endregion step-tests

// #region text-tests

func TestStepText(t *testing.T) {
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), fakeEmbedder{vec: []float32{0, 1}})

	out, err := f.session.StepText(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Reading.MatchIndex)
}

func TestStepText_NoEmbedder(t *testing.T) {
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), nil)
	_, err := f.session.StepText(context.Background(), "hello", nil)
	assert.True(t, errors.Is(err, ErrNoEmbedder))
}

func TestStepText_EmbedFailure(t *testing.T) {
	boom := errors.New("sidecar down")
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), fakeEmbedder{err: boom})

	_, err := f.session.StepText(context.Background(), "hello", nil)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected.WithLabelValues("agent-a", metrics.ReasonEmbed)))
}

// #endregion text-tests

// #region lifecycle-tests

func TestNew_ResumesActiveVersion(t *testing.T) {
	store := newStore(t)
	first := newFixture(t, store, fastConfig(), nil)
	out, err := first.session.Step(context.Background(), opposite, nil)
	require.NoError(t, err)

	second := newFixture(t, store, fastConfig(), nil)
	snap := second.ctrl.Snapshot()
	assert.Equal(t, mode.Crisis, snap.State.Mode)
	assert.InDelta(t, out.Evaluation.Trend, snap.Trend.Current, 1e-12)
	assert.Equal(t, out.VersionID, second.session.Status().VersionID)
}

func TestNew_MissingDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
	_, err = New(Deps{AgentID: "a"})
	assert.Error(t, err)
}

func TestUpdateBasis_DimensionMismatch(t *testing.T) {
	f := newFixture(t, newStore(t), mode.DefaultControllerConfig(), nil)
	before := f.session.Status().Basis.ID

	_, err := f.session.UpdateBasis([][]float32{{1, 0, 0}})
	assert.True(t, errors.Is(err, signals.ErrDimensionMismatch))
	assert.Equal(t, before, f.session.Status().Basis.ID)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.BasisSize))
}

func TestReset(t *testing.T) {
	f := newFixture(t, newStore(t), fastConfig(), nil)
	_, err := f.session.Step(context.Background(), opposite, nil)
	require.NoError(t, err)

	versionID, err := f.session.Reset()
	require.NoError(t, err)

	cur, err := f.store.GetCurrent("agent-a")
	require.NoError(t, err)
	assert.Equal(t, versionID, cur.VersionID)
	assert.Equal(t, mode.Idle, cur.Mode)
	assert.Equal(t, mode.Idle, f.session.Status().Stats.Mode)
}

// #endregion lifecycle-tests
