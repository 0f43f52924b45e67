package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/phase-controller/internal/config"
	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

type options struct {
	configPath string
	dbPath     string
	agentID    string
	last       int
	jsonOut    bool
	out        io.Writer
}

// #region main
func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{out: out}
	root := &cobra.Command{
		Use:           "inspect",
		Short:         "Inspect persisted mode versions, transitions and readings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "phase.yaml", "path to YAML config")
	pf.StringVar(&opts.dbPath, "db", "", "state database (overrides config)")
	pf.StringVar(&opts.agentID, "agent", "", "agent ID (overrides config)")
	pf.IntVar(&opts.last, "last", 20, "show N most recent rows, 0 for all")
	pf.BoolVar(&opts.jsonOut, "json", false, "output as JSON instead of table")

	sub := func(use, short string, fn func(*state.Store, *options) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.with(fn)
			},
		}
	}
	root.AddCommand(
		sub("status", "Show the active version of each agent", runStatus),
		sub("versions", "List an agent's mode versions", runVersions),
		sub("transitions", "List committed and debounced transitions", runTransitions),
		sub("readings", "List recorded V_SP readings", runReadings),
	)
	return root
}

// with fills unset flags from the config file, opens the store and runs fn.
func (o *options) with(fn func(*state.Store, *options) error) error {
	if o.dbPath == "" || o.agentID == "" {
		cfg, err := config.Load(o.configPath)
		if err != nil {
			return err
		}
		if o.dbPath == "" {
			o.dbPath = cfg.Storage.StateDB
		}
		if o.agentID == "" {
			o.agentID = cfg.Agent.ID
		}
	}
	if _, err := os.Stat(o.dbPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	store, err := state.NewStore(o.dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()
	return fn(store, o)
}

func (o *options) limit() int {
	if o.last <= 0 {
		return -1
	}
	return o.last
}
// #endregion main

// #region status
type versionRow struct {
	VersionID             string  `json:"version_id"`
	ParentID              string  `json:"parent_id,omitempty"`
	AgentID               string  `json:"agent_id"`
	Mode                  string  `json:"mode"`
	Trend                 float64 `json:"trend"`
	EnteredAt             string  `json:"entered_at"`
	LastTransitionAttempt string  `json:"last_transition_attempt,omitempty"`
	BasisID               string  `json:"basis_id,omitempty"`
	CreatedAt             string  `json:"created_at"`
}

func toVersionRow(rec state.StateRecord) versionRow {
	return versionRow{
		VersionID:             rec.VersionID,
		ParentID:              rec.ParentID,
		AgentID:               rec.AgentID,
		Mode:                  rec.Mode.String(),
		Trend:                 rec.Trend,
		EnteredAt:             formatTime(rec.EnteredAt),
		LastTransitionAttempt: formatTime(rec.LastTransitionAttempt),
		BasisID:               rec.BasisID,
		CreatedAt:             formatTime(rec.CreatedAt),
	}
}

// runStatus prints the active version of every agent in the database.
func runStatus(store *state.Store, o *options) error {
	agents, err := store.ListAgents()
	if err != nil {
		return err
	}
	rows := make([]versionRow, 0, len(agents))
	for _, agent := range agents {
		rec, err := store.GetCurrent(agent)
		if err != nil {
			return err
		}
		rows = append(rows, toVersionRow(rec))
	}
	if o.jsonOut {
		return printJSON(o.out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(o.out, "no agents found")
		return nil
	}
	fmt.Fprintf(o.out, "%-16s  %-8s  %-7s  %8s  %-24s  %s\n",
		"Agent", "Version", "Mode", "Trend", "Entered", "Basis")
	for _, r := range rows {
		fmt.Fprintf(o.out, "%-16s  %-8s  %-7s  %8.4f  %-24s  %s\n",
			r.AgentID, shortID(r.VersionID), r.Mode, r.Trend, r.EnteredAt, orDash(shortID(r.BasisID)))
	}
	return nil
}
// #endregion status

// #region versions
func runVersions(store *state.Store, o *options) error {
	records, err := store.ListVersions(o.agentID, o.limit())
	if err != nil {
		return err
	}
	// Store returns newest first; print chronologically.
	rows := make([]versionRow, len(records))
	for i, rec := range records {
		rows[len(records)-1-i] = toVersionRow(rec)
	}
	if o.jsonOut {
		return printJSON(o.out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(o.out, "no versions found for %s\n", o.agentID)
		return nil
	}
	fmt.Fprintf(o.out, "%-8s  %-8s  %-7s  %8s  %s\n", "Version", "Parent", "Mode", "Trend", "Created")
	fmt.Fprintf(o.out, "%-8s+-%-8s+-%-7s+-%8s+-%s\n", "--------", "--------", "-------", "--------", "------------------------")
	for _, r := range rows {
		fmt.Fprintf(o.out, "%-8s  %-8s  %-7s  %8.4f  %s\n",
			shortID(r.VersionID), orDash(shortID(r.ParentID)), r.Mode, r.Trend, r.CreatedAt)
	}
	return nil
}
// #endregion versions

// #region transitions
type transitionRow struct {
	VersionID string  `json:"version_id,omitempty"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Trend     float64 `json:"trend"`
	Debounced bool    `json:"debounced"`
	Reason    string  `json:"reason"`
	CreatedAt string  `json:"created_at"`
}

func runTransitions(store *state.Store, o *options) error {
	entries, err := logging.ListTransitions(store.DB(), o.agentID, o.limit())
	if err != nil {
		return err
	}
	rows := make([]transitionRow, len(entries))
	for i, e := range entries {
		rows[i] = transitionRow{
			VersionID: e.VersionID,
			From:      e.From.String(),
			To:        e.To.String(),
			Trend:     e.Trend,
			Debounced: e.Debounced,
			Reason:    e.Reason,
			CreatedAt: formatTime(e.CreatedAt),
		}
	}
	if o.jsonOut {
		return printJSON(o.out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(o.out, "no transitions found for %s\n", o.agentID)
		return nil
	}
	fmt.Fprintf(o.out, "%-24s  %-7s  %-7s  %8s  %-9s  %s\n", "Time", "From", "To", "Trend", "Outcome", "Reason")
	for _, r := range rows {
		outcome := "committed"
		if r.Debounced {
			outcome = "debounced"
		}
		fmt.Fprintf(o.out, "%-24s  %-7s  %-7s  %8.4f  %-9s  %s\n",
			r.CreatedAt, r.From, r.To, r.Trend, outcome, r.Reason)
	}
	return nil
}
// #endregion transitions

// #region readings
type readingRow struct {
	Value      float64 `json:"value"`
	Cosine     float64 `json:"cosine_term"`
	Emotional  float64 `json:"emotional_term"`
	Causal     float64 `json:"causal_term"`
	MatchIndex int     `json:"match_index"`
	Similarity float64 `json:"similarity"`
	Trend      float64 `json:"trend"`
	Mode       string  `json:"mode"`
	VersionID  string  `json:"version_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

func runReadings(store *state.Store, o *options) error {
	entries, err := logging.ListReadings(store.DB(), o.agentID, o.limit())
	if err != nil {
		return err
	}
	rows := make([]readingRow, len(entries))
	for i, e := range entries {
		rows[i] = readingRow{
			Value:      e.Value,
			Cosine:     e.Components.Cosine,
			Emotional:  e.Components.Emotional,
			Causal:     e.Components.Causal,
			MatchIndex: e.MatchIndex,
			Similarity: e.Similarity,
			Trend:      e.Trend,
			Mode:       e.Mode.String(),
			VersionID:  e.VersionID,
			CreatedAt:  formatTime(e.CreatedAt),
		}
	}
	if o.jsonOut {
		return printJSON(o.out, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintf(o.out, "no readings found for %s\n", o.agentID)
		return nil
	}
	fmt.Fprintf(o.out, "%-24s  %7s  %7s  %7s  %7s  %5s  %8s  %s\n",
		"Time", "V_SP", "Cosine", "Emot", "Causal", "Match", "Trend", "Mode")
	for _, r := range rows {
		fmt.Fprintf(o.out, "%-24s  %7.4f  %7.4f  %7.4f  %7.4f  %5d  %8.4f  %s\n",
			r.CreatedAt, r.Value, r.Cosine, r.Emotional, r.Causal, r.MatchIndex, r.Trend, r.Mode)
	}
	return nil
}
// #endregion readings

// #region output
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
// #endregion output
