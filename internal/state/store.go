package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/phase-controller/internal/mode"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS mode_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	agent_id      TEXT NOT NULL,
	mode          TEXT NOT NULL,
	trend         REAL NOT NULL,
	entered_at    TEXT NOT NULL,
	last_attempt  TEXT,
	basis_id      TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES mode_versions(version_id)
);

CREATE INDEX IF NOT EXISTS idx_mode_versions_agent ON mode_versions(agent_id);

CREATE TABLE IF NOT EXISTS active_state (
	agent_id      TEXT PRIMARY KEY,
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES mode_versions(version_id)
);

CREATE TABLE IF NOT EXISTS vsp_readings (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id        TEXT NOT NULL,
	version_id      TEXT,
	value           REAL NOT NULL,
	cosine_term     REAL NOT NULL,
	emotional_term  REAL NOT NULL,
	causal_term     REAL NOT NULL,
	match_index     INTEGER NOT NULL,
	similarity      REAL NOT NULL,
	basis_id        TEXT,
	trend           REAL NOT NULL,
	mode            TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vsp_readings_agent ON vsp_readings(agent_id, id);

CREATE TABLE IF NOT EXISTS mode_transitions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id      TEXT NOT NULL,
	version_id    TEXT,
	from_mode     TEXT NOT NULL,
	to_mode       TEXT NOT NULL,
	trend         REAL NOT NULL,
	debounced     INTEGER NOT NULL DEFAULT 0,
	reason        TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES mode_versions(version_id)
);

CREATE INDEX IF NOT EXISTS idx_mode_transitions_agent ON mode_transitions(agent_id, id);
`
// #endregion schema

const versionColumns = `version_id, parent_id, agent_id, mode, trend, entered_at, last_attempt, basis_id, created_at`

// #region store-struct
// Store manages versioned per-agent mode state in SQLite.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB runs migrations on an already opened database.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for the audit log.
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion close

// #region create-initial
// CreateInitialState stores the first version for agentID and makes it active.
func (s *Store) CreateInitialState(agentID string, snap mode.Snapshot) (StateRecord, error) {
	if agentID == "" {
		return StateRecord{}, errors.New("create initial state: empty agent id")
	}
	rec := NewRecord(agentID, "", snap, "", time.Now().UTC())
	if err := s.CommitState(rec); err != nil {
		return StateRecord{}, fmt.Errorf("create initial state: %w", err)
	}
	return rec, nil
}
// #endregion create-initial

// #region get-current
// GetCurrent reads the active version for agentID.
func (s *Store) GetCurrent(agentID string) (StateRecord, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_state WHERE agent_id = ?`, agentID).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return StateRecord{}, fmt.Errorf("get active %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return StateRecord{}, fmt.Errorf("get active %s: %w", agentID, err)
	}
	return s.GetVersion(versionID)
}
// #endregion get-current

// #region get-version
// GetVersion retrieves a specific version by ID.
func (s *Store) GetVersion(id string) (StateRecord, error) {
	row := s.db.QueryRow(`SELECT `+versionColumns+` FROM mode_versions WHERE version_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StateRecord{}, fmt.Errorf("get version %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return StateRecord{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}
// #endregion get-version

// #region commit-state
// CommitState inserts a new version and moves the agent's active pointer atomically.
func (s *Store) CommitState(rec StateRecord) error {
	return s.CommitStateWith(rec, nil)
}

// CommitStateWith is CommitState with extra writes run inside the same
// transaction. An error from fn rolls back the version and the pointer move.
func (s *Store) CommitStateWith(rec StateRecord, fn func(tx *sql.Tx) error) error {
	if !rec.Mode.Valid() {
		return fmt.Errorf("commit state: %w: %d", mode.ErrInvalidMode, uint8(rec.Mode))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO mode_versions (`+versionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, nullIfEmpty(rec.ParentID), rec.AgentID, rec.Mode.String(), rec.Trend,
		formatTime(rec.EnteredAt), nullIfZero(rec.LastTransitionAttempt), nullIfEmpty(rec.BasisID),
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO active_state (agent_id, version_id) VALUES (?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET version_id = excluded.version_id`,
		rec.AgentID, rec.VersionID,
	)
	if err != nil {
		return fmt.Errorf("update active: %w", err)
	}

	if fn != nil {
		if err := fn(tx); err != nil {
			return err
		}
	}

	return tx.Commit()
}
// #endregion commit-state

// #region rollback
// Rollback points agentID back at one of its earlier versions.
func (s *Store) Rollback(agentID, targetVersionID string) error {
	var owner string
	err := s.db.QueryRow(
		`SELECT agent_id FROM mode_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("version %s: %w", targetVersionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if owner != agentID {
		return fmt.Errorf("version %s belongs to agent %s, not %s", targetVersionID, owner, agentID)
	}

	_, err = s.db.Exec(`UPDATE active_state SET version_id = ? WHERE agent_id = ?`, targetVersionID, agentID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
// #endregion rollback

// #region list-versions
// ListVersions returns the most recent versions for agentID, newest first.
func (s *Store) ListVersions(agentID string, limit int) ([]StateRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+versionColumns+` FROM mode_versions WHERE agent_id = ?
		 ORDER BY rowid DESC LIMIT ?`, agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []StateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListAgents returns every agent with an active version.
func (s *Store) ListAgents() ([]string, error) {
	rows, err := s.db.Query(`SELECT agent_id FROM active_state ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		agents = append(agents, id)
	}
	return agents, rows.Err()
}
// #endregion list-versions

// #region scanning
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (StateRecord, error) {
	var rec StateRecord
	var parentID, lastAttempt, basisID sql.NullString
	var modeName, enteredStr, createdStr string

	err := sc.Scan(&rec.VersionID, &parentID, &rec.AgentID, &modeName, &rec.Trend,
		&enteredStr, &lastAttempt, &basisID, &createdStr)
	if err != nil {
		return StateRecord{}, err
	}

	if rec.Mode, err = mode.ParseMode(modeName); err != nil {
		return StateRecord{}, err
	}
	rec.ParentID = parentID.String
	rec.BasisID = basisID.String
	rec.EnteredAt, _ = time.Parse(time.RFC3339Nano, enteredStr)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	if lastAttempt.Valid {
		rec.LastTransitionAttempt, _ = time.Parse(time.RFC3339Nano, lastAttempt.String)
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
// #endregion scanning
