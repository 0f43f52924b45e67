package signals

import (
	"errors"
	"fmt"
	"time"
)

// #region errors

var (
	// ErrDimensionMismatch is returned when an input or basis vector does not
	// have the configured dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidLensing is returned when a lensing term lies outside [-1, 1].
	ErrInvalidLensing = errors.New("invalid lensing term")
	// ErrInvalidConfig is returned by NewEngine for unusable configuration.
	ErrInvalidConfig = errors.New("invalid signal engine config")
)

// DimensionError reports which vector had the wrong length.
// Index is -1 for the input vector, otherwise the basis position.
type DimensionError struct {
	Index int
	Want  int
	Got   int
}

func (e *DimensionError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("input vector: want %d dims, got %d: %v", e.Want, e.Got, ErrDimensionMismatch)
	}
	return fmt.Sprintf("basis vector %d: want %d dims, got %d: %v", e.Index, e.Want, e.Got, ErrDimensionMismatch)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// #endregion errors

// #region config

// LensingConfig holds the weights applied to per-call lensing terms.
// Zero weights disable lensing.
type LensingConfig struct {
	EmotionalWeight float64
	CausalWeight    float64
}

// EngineConfig holds tuning knobs for the signal engine.
type EngineConfig struct {
	Dimension int // length shared by input and basis vectors
	Lensing   LensingConfig
}

// DefaultEngineConfig returns the MiniLM-sized default with lensing off.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Dimension: 384,
	}
}

// #endregion config

// #region basis

// Basis is an immutable snapshot of the schema basis. The engine never
// mutates a Basis after publishing it.
type Basis struct {
	ID        string // empty until the first update
	Vectors   [][]float32
	UpdatedAt time.Time
}

// Len returns the number of reference vectors.
func (b Basis) Len() int { return len(b.Vectors) }

// #endregion basis

// #region lensing

// LensingWeights carries the per-call emotional and causal terms, each in [-1, 1].
type LensingWeights struct {
	Emotional float64
	Causal    float64
}

// #endregion lensing

// #region reading

// Components breaks a reading into the terms that produced it.
type Components struct {
	Cosine    float64 `json:"cosine_term"`    // 1 - nearest-frame similarity
	Emotional float64 `json:"emotional_term"` // weighted emotional contribution
	Causal    float64 `json:"causal_term"`    // weighted causal contribution
}

// Reading is a single V_SP computation result.
type Reading struct {
	Value      float64    `json:"value"` // always in [0, 1]
	Timestamp  time.Time  `json:"timestamp"`
	Components Components `json:"components"`
	MatchIndex int        `json:"match_index"` // nearest basis vector, -1 when the basis is empty
	Similarity float64    `json:"similarity"`  // raw cosine similarity of the nearest frame
	BasisID    string     `json:"basis_id,omitempty"`
}

// #endregion reading
