package state

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/phase-controller/internal/mode"
)

// ErrNotFound is returned when an agent has no active version or a version ID is unknown.
var ErrNotFound = errors.New("not found")

// #region state-record
// StateRecord is a versioned snapshot of one agent's mode and trend.
type StateRecord struct {
	VersionID             string
	ParentID              string
	AgentID               string
	Mode                  mode.Mode
	Trend                 float64
	EnteredAt             time.Time
	LastTransitionAttempt time.Time
	BasisID               string
	CreatedAt             time.Time
}

// NewRecord builds the next version for agentID from a controller snapshot.
func NewRecord(agentID, parentID string, snap mode.Snapshot, basisID string, createdAt time.Time) StateRecord {
	return StateRecord{
		VersionID:             uuid.New().String(),
		ParentID:              parentID,
		AgentID:               agentID,
		Mode:                  snap.State.Mode,
		Trend:                 snap.Trend.Current,
		EnteredAt:             snap.State.EnteredAt,
		LastTransitionAttempt: snap.State.LastTransitionAttempt,
		BasisID:               basisID,
		CreatedAt:             createdAt,
	}
}

// Snapshot converts the record back into controller state.
func (r StateRecord) Snapshot() mode.Snapshot {
	return mode.Snapshot{
		State: mode.ModeState{
			Mode:                  r.Mode,
			EnteredAt:             r.EnteredAt,
			LastTransitionAttempt: r.LastTransitionAttempt,
		},
		Trend: mode.TrendState{Current: r.Trend},
	}
}
// #endregion state-record
