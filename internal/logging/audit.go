package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/phase-controller/internal/mode"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// #region log-reading
// LogReading writes an entry to the vsp_readings table.
func LogReading(db Execer, entry ReadingEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO vsp_readings (agent_id, version_id, value, cosine_term, emotional_term, causal_term,
		 match_index, similarity, basis_id, trend, mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.AgentID,
		nullIfEmpty(entry.VersionID),
		entry.Value,
		entry.Components.Cosine,
		entry.Components.Emotional,
		entry.Components.Causal,
		entry.MatchIndex,
		entry.Similarity,
		nullIfEmpty(entry.BasisID),
		entry.Trend,
		entry.Mode.String(),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log reading: %w", err)
	}
	return nil
}
// #endregion log-reading

// #region log-transition
// LogTransition writes an entry to the mode_transitions table.
func LogTransition(db Execer, entry TransitionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO mode_transitions (agent_id, version_id, from_mode, to_mode, trend, debounced, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.AgentID,
		nullIfEmpty(entry.VersionID),
		entry.From.String(),
		entry.To.String(),
		entry.Trend,
		entry.Debounced,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return nil
}
// #endregion log-transition

// #region list
// ListReadings returns the last limit readings for agentID, oldest first.
// A limit of zero or less returns all of them.
func ListReadings(db *sql.DB, agentID string, limit int) ([]ReadingEntry, error) {
	rows, err := db.Query(
		`SELECT id, agent_id, version_id, value, cosine_term, emotional_term, causal_term,
		        match_index, similarity, basis_id, trend, mode, created_at
		 FROM (SELECT * FROM vsp_readings WHERE agent_id = ? ORDER BY id DESC LIMIT ?)
		 ORDER BY id ASC`, agentID, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var entries []ReadingEntry
	for rows.Next() {
		var e ReadingEntry
		var versionID, basisID sql.NullString
		var modeName, createdStr string
		if err := rows.Scan(&e.ID, &e.AgentID, &versionID, &e.Value,
			&e.Components.Cosine, &e.Components.Emotional, &e.Components.Causal,
			&e.MatchIndex, &e.Similarity, &basisID, &e.Trend, &modeName, &createdStr); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		if e.Mode, err = mode.ParseMode(modeName); err != nil {
			return nil, fmt.Errorf("reading %d: %w", e.ID, err)
		}
		e.VersionID = versionID.String
		e.BasisID = basisID.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListTransitions returns the last limit transitions for agentID, oldest first.
func ListTransitions(db *sql.DB, agentID string, limit int) ([]TransitionEntry, error) {
	rows, err := db.Query(
		`SELECT id, agent_id, version_id, from_mode, to_mode, trend, debounced, reason, created_at
		 FROM (SELECT * FROM mode_transitions WHERE agent_id = ? ORDER BY id DESC LIMIT ?)
		 ORDER BY id ASC`, agentID, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var entries []TransitionEntry
	for rows.Next() {
		var e TransitionEntry
		var versionID, reason sql.NullString
		var fromName, toName, createdStr string
		if err := rows.Scan(&e.ID, &e.AgentID, &versionID, &fromName, &toName,
			&e.Trend, &e.Debounced, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if e.From, err = mode.ParseMode(fromName); err != nil {
			return nil, fmt.Errorf("transition %d: %w", e.ID, err)
		}
		if e.To, err = mode.ParseMode(toName); err != nil {
			return nil, fmt.Errorf("transition %d: %w", e.ID, err)
		}
		e.VersionID = versionID.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
// #endregion list

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
// #endregion helpers
