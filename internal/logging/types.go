package logging

import (
	"time"

	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
)

// #region log-config
// LogConfig selects the process logger's level and encoding.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// DefaultLogConfig logs at info level in JSON.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", JSON: true}
}
// #endregion log-config

// #region reading-entry
// ReadingEntry is a single row in the vsp_readings table.
type ReadingEntry struct {
	ID         int64
	AgentID    string
	VersionID  string // active version after the reading was evaluated
	Value      float64
	Components signals.Components
	MatchIndex int
	Similarity float64
	BasisID    string
	Trend      float64
	Mode       mode.Mode
	CreatedAt  time.Time
}

// NewReadingEntry pairs a reading with the evaluation it produced.
func NewReadingEntry(agentID, versionID string, r signals.Reading, ev mode.Evaluation) ReadingEntry {
	return ReadingEntry{
		AgentID:    agentID,
		VersionID:  versionID,
		Value:      r.Value,
		Components: r.Components,
		MatchIndex: r.MatchIndex,
		Similarity: r.Similarity,
		BasisID:    r.BasisID,
		Trend:      ev.Trend,
		Mode:       ev.State.Mode,
		CreatedAt:  r.Timestamp,
	}
}

// Reading rebuilds the engine output recorded in the entry.
func (e ReadingEntry) Reading() signals.Reading {
	return signals.Reading{
		Value:      e.Value,
		Timestamp:  e.CreatedAt,
		Components: e.Components,
		MatchIndex: e.MatchIndex,
		Similarity: e.Similarity,
		BasisID:    e.BasisID,
	}
}
// #endregion reading-entry

// #region transition-entry
// TransitionEntry records a committed or debounced mode change.
type TransitionEntry struct {
	ID        int64
	AgentID   string
	VersionID string // empty when debounced
	From      mode.Mode
	To        mode.Mode
	Trend     float64
	Debounced bool
	Reason    string
	CreatedAt time.Time
}

// NewTransitionEntry builds an entry from an evaluation whose candidate differed from the previous mode.
func NewTransitionEntry(agentID, versionID string, ev mode.Evaluation) TransitionEntry {
	return TransitionEntry{
		AgentID:   agentID,
		VersionID: versionID,
		From:      ev.Previous,
		To:        ev.Candidate,
		Trend:     ev.Trend,
		Debounced: ev.Debounced,
		Reason:    ev.Reason,
		CreatedAt: ev.State.LastTransitionAttempt,
	}
}
// #endregion transition-entry
