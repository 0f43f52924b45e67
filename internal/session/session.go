package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/phase-controller/internal/clock"
	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/metrics"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

// ErrNoEmbedder is returned by StepText when the session has no embedder.
var ErrNoEmbedder = errors.New("no embedder configured")

// #region types

// Embedder turns text into an input vector. The gRPC codec client implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Deps are the collaborators a Session wires together.
type Deps struct {
	AgentID    string
	Engine     *signals.Engine
	Controller *mode.Controller
	Store      *state.Store
	Metrics    *metrics.Metrics // optional
	Logger     *zap.Logger      // optional
	Embedder   Embedder         // optional, needed by StepText
	Clock      clock.Clock      // optional, stamps stored versions
}

// Outcome is the result of one step.
type Outcome struct {
	Reading    signals.Reading
	Evaluation mode.Evaluation
	VersionID  string // version written for this step
}

// Status summarises a session for the inspect and REPL commands.
type Status struct {
	AgentID   string
	VersionID string
	Stats     mode.Stats
	History   []float64 // recent V_SP values, oldest first
	Basis     signals.Basis
}

// #endregion types

// #region session

// Session drives one agent's stream: compute, evaluate, persist, audit.
type Session struct {
	mu        sync.Mutex
	deps      Deps
	logger    *zap.Logger
	versionID string
}

// New wires deps together and resumes the agent's active version,
// creating an initial one on first use.
func New(deps Deps) (*Session, error) {
	switch {
	case deps.AgentID == "":
		return nil, errors.New("new session: empty agent id")
	case deps.Engine == nil:
		return nil, errors.New("new session: nil engine")
	case deps.Controller == nil:
		return nil, errors.New("new session: nil controller")
	case deps.Store == nil:
		return nil, errors.New("new session: nil store")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	s := &Session{
		deps:   deps,
		logger: logging.OrNop(deps.Logger).With(zap.String("agent", deps.AgentID)),
	}

	rec, err := deps.Store.GetCurrent(deps.AgentID)
	switch {
	case errors.Is(err, state.ErrNotFound):
		rec, err = deps.Store.CreateInitialState(deps.AgentID, deps.Controller.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("new session: %w", err)
		}
		s.logger.Info("created initial state", zap.String("version", rec.VersionID))
	case err != nil:
		return nil, fmt.Errorf("new session: %w", err)
	default:
		if err := deps.Controller.Restore(rec.Snapshot()); err != nil {
			return nil, fmt.Errorf("new session: %w", err)
		}
		s.logger.Info("resumed state",
			zap.String("version", rec.VersionID),
			zap.Stringer("mode", rec.Mode),
			zap.Float64("trend", rec.Trend),
		)
	}
	s.versionID = rec.VersionID
	return s, nil
}

// Step computes V_SP for vec, feeds it to the controller and persists the result.
// Rejected inputs and failed writes leave the controller untouched.
func (s *Session) Step(ctx context.Context, vec []float32, lensing *signals.LensingWeights) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reading, err := s.deps.Engine.Compute(vec, lensing)
	if err != nil {
		s.reject(rejectReason(err), err)
		return Outcome{}, fmt.Errorf("compute: %w", err)
	}

	cp := s.deps.Controller.Checkpoint()
	ev, err := s.deps.Controller.Evaluate(reading)
	if err != nil {
		s.reject(metrics.ReasonReading, err)
		return Outcome{}, fmt.Errorf("evaluate: %w", err)
	}

	out := Outcome{Reading: reading, Evaluation: ev}
	if out.VersionID, err = s.persist(reading, ev); err != nil {
		s.deps.Controller.Rollback(cp)
		s.reject(metrics.ReasonStorage, err)
		return Outcome{}, err
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveEvaluation(s.deps.AgentID, reading.Value, ev)
	}
	s.logEvaluation(reading, ev)
	return out, nil
}

// StepText embeds text with the configured Embedder, then steps.
func (s *Session) StepText(ctx context.Context, text string, lensing *signals.LensingWeights) (Outcome, error) {
	if s.deps.Embedder == nil {
		return Outcome{}, ErrNoEmbedder
	}
	vec, err := s.deps.Embedder.Embed(ctx, text)
	if err != nil {
		s.reject(metrics.ReasonEmbed, err)
		return Outcome{}, fmt.Errorf("embed: %w", err)
	}
	return s.Step(ctx, vec, lensing)
}

// UpdateBasis swaps the engine's schema basis.
func (s *Session) UpdateBasis(vectors [][]float32) (signals.Basis, error) {
	b, err := s.deps.Engine.UpdateSchemaBasis(vectors)
	if err != nil {
		s.logger.Warn("basis update rejected", zap.Error(err))
		return signals.Basis{}, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetBasisSize(b.Len())
	}
	s.logger.Info("basis updated", zap.String("basis", b.ID), zap.Int("vectors", b.Len()))
	return b, nil
}

// Reset returns the controller to Idle and persists that as a new version.
func (s *Session) Reset() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deps.Controller.Reset()
	rec := state.NewRecord(s.deps.AgentID, s.versionID, s.deps.Controller.Snapshot(),
		s.deps.Engine.Basis().ID, s.deps.Clock.Now())
	if err := s.deps.Store.CommitState(rec); err != nil {
		return "", fmt.Errorf("persist reset: %w", err)
	}
	s.versionID = rec.VersionID
	s.logger.Info("controller reset", zap.String("version", rec.VersionID))
	return rec.VersionID, nil
}

// Status reports the session's current version, controller stats and basis.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		AgentID:   s.deps.AgentID,
		VersionID: s.versionID,
		Stats:     s.deps.Controller.Stats(),
		History:   s.deps.Controller.History(),
		Basis:     s.deps.Engine.Basis(),
	}
}

// #endregion session

// #region persistence

// persist writes the new version and the audit rows for one evaluation in a
// single transaction. The session's version only moves once it commits.
func (s *Session) persist(reading signals.Reading, ev mode.Evaluation) (string, error) {
	rec := state.NewRecord(s.deps.AgentID, s.versionID, s.deps.Controller.Snapshot(), reading.BasisID, s.deps.Clock.Now())
	err := s.deps.Store.CommitStateWith(rec, func(tx *sql.Tx) error {
		if err := logging.LogReading(tx, logging.NewReadingEntry(s.deps.AgentID, rec.VersionID, reading, ev)); err != nil {
			return err
		}
		if ev.Candidate == ev.Previous {
			return nil
		}
		versionID := rec.VersionID
		if ev.Debounced {
			versionID = ""
		}
		return logging.LogTransition(tx, logging.NewTransitionEntry(s.deps.AgentID, versionID, ev))
	})
	if err != nil {
		return "", fmt.Errorf("commit state: %w", err)
	}
	s.versionID = rec.VersionID
	return rec.VersionID, nil
}

// #endregion persistence

// #region helpers

func (s *Session) reject(reason string, err error) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveRejection(s.deps.AgentID, reason)
	}
	s.logger.Warn("input rejected", zap.String("reason", reason), zap.Error(err))
}

func (s *Session) logEvaluation(reading signals.Reading, ev mode.Evaluation) {
	fields := []zap.Field{
		zap.Float64("vsp", reading.Value),
		zap.Float64("trend", ev.Trend),
		zap.Stringer("mode", ev.State.Mode),
		zap.Int("match", reading.MatchIndex),
	}
	switch {
	case ev.Transitioned:
		s.logger.Info("mode transition", append(fields, zap.Stringer("from", ev.Previous), zap.String("reason", ev.Reason))...)
	case ev.Debounced:
		s.logger.Info("transition debounced", append(fields, zap.Stringer("candidate", ev.Candidate), zap.String("reason", ev.Reason))...)
	default:
		s.logger.Debug("reading", fields...)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, signals.ErrDimensionMismatch):
		return metrics.ReasonDimension
	case errors.Is(err, signals.ErrInvalidLensing):
		return metrics.ReasonLensing
	}
	return metrics.ReasonReading
}

// #endregion helpers
