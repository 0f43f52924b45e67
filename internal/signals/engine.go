package signals

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/viterin/vek"

	"github.com/danielpatrickdp/phase-controller/internal/clock"
)

// #region engine

// Engine computes V_SP readings against the registered schema basis.
// Compute is safe for concurrent use; UpdateSchemaBasis swaps the whole
// basis atomically so in-flight computations keep the snapshot they loaded.
type Engine struct {
	config EngineConfig
	clock  clock.Clock
	basis  atomic.Pointer[Basis]
}

// NewEngine creates an Engine with an empty basis. clk may be nil (wall clock).
func NewEngine(config EngineConfig, clk clock.Clock) (*Engine, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be > 0, got %d", ErrInvalidConfig, config.Dimension)
	}
	if !finite(config.Lensing.EmotionalWeight) || !finite(config.Lensing.CausalWeight) {
		return nil, fmt.Errorf("%w: lensing weights must be finite", ErrInvalidConfig)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{config: config, clock: clk}
	e.basis.Store(&Basis{})
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// #endregion engine

// #region basis-update

// UpdateSchemaBasis validates and deep-copies vectors, then publishes them as
// the new basis. On error the current basis is left untouched.
func (e *Engine) UpdateSchemaBasis(vectors [][]float32) (Basis, error) {
	for i, v := range vectors {
		if len(v) != e.config.Dimension {
			return Basis{}, &DimensionError{Index: i, Want: e.config.Dimension, Got: len(v)}
		}
	}
	copied := make([][]float32, len(vectors))
	for i, v := range vectors {
		copied[i] = append([]float32(nil), v...)
	}
	next := &Basis{
		ID:        uuid.New().String(),
		Vectors:   copied,
		UpdatedAt: e.clock.Now(),
	}
	e.basis.Store(next)
	return *next, nil
}

// Basis returns the current snapshot. The vectors are shared and must not be modified.
func (e *Engine) Basis() Basis {
	return *e.basis.Load()
}

// #endregion basis-update

// #region compute

// Compute scores input against the current basis snapshot.
func (e *Engine) Compute(input []float32, lensing *LensingWeights) (Reading, error) {
	snap := e.basis.Load()
	r, err := e.ComputeWith(input, snap.Vectors, lensing)
	if err != nil {
		return Reading{}, err
	}
	r.BasisID = snap.ID
	return r, nil
}

// ComputeWith scores input against an explicit basis. It does not touch the
// registered basis.
func (e *Engine) ComputeWith(input []float32, basis [][]float32, lensing *LensingWeights) (Reading, error) {
	if len(input) != e.config.Dimension {
		return Reading{}, &DimensionError{Index: -1, Want: e.config.Dimension, Got: len(input)}
	}
	for i, v := range basis {
		if len(v) != e.config.Dimension {
			return Reading{}, &DimensionError{Index: i, Want: e.config.Dimension, Got: len(v)}
		}
	}
	if err := lensing.validate(); err != nil {
		return Reading{}, err
	}

	match, similarity := nearestFrame(input, basis)
	dissonance := 1.0
	if match >= 0 {
		dissonance = 1 - clamp(similarity)
	}

	var emotional, causal float64
	if lensing != nil {
		emotional = lensing.Emotional * e.config.Lensing.EmotionalWeight
		causal = lensing.Causal * e.config.Lensing.CausalWeight
	}

	return Reading{
		Value:     clamp(dissonance + emotional + causal),
		Timestamp: e.clock.Now(),
		Components: Components{
			Cosine:    dissonance,
			Emotional: emotional,
			Causal:    causal,
		},
		MatchIndex: match,
		Similarity: similarity,
	}, nil
}

// #endregion compute

// #region helpers

// nearestFrame returns the index and cosine similarity of the basis vector
// closest to input, or (-1, 0) for an empty basis.
func nearestFrame(input []float32, basis [][]float32) (int, float64) {
	if len(basis) == 0 || len(input) == 0 {
		return -1, 0
	}
	in := vek.FromFloat32(input)
	buf := make([]float64, len(input))

	best := -1
	bestSim := math.Inf(-1)
	for i, v := range basis {
		sim := cosineSimilarity(in, vek.FromFloat32_Into(buf, v))
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	return best, bestSim
}

// cosineSimilarity works in float64 so identical frames score exactly 1 and
// extreme float32 magnitudes neither overflow nor underflow. Zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	sim := vek.CosineSimilarity(a, b)
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}

func (l *LensingWeights) validate() error {
	if l == nil {
		return nil
	}
	if !inUnitRange(l.Emotional) {
		return fmt.Errorf("%w: emotional %v not in [-1, 1]", ErrInvalidLensing, l.Emotional)
	}
	if !inUnitRange(l.Causal) {
		return fmt.Errorf("%w: causal %v not in [-1, 1]", ErrInvalidLensing, l.Causal)
	}
	return nil
}

func inUnitRange(v float64) bool {
	return v >= -1 && v <= 1
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// clamp restricts v to [0, 1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
