package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/phase-controller/internal/config"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/replay"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

// #region main
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns 0 when every reading matches, 1 on divergence and 2 on usage or load errors.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fixturePath := fs.String("fixture", "", "path to fixture JSON (fixture mode)")
	dbPath := fs.String("db", "", "path to state database (DB mode)")
	agentID := fs.String("agent", "", "agent to replay in DB mode (defaults to the config agent)")
	configPath := fs.String("config", "phase.yaml", "YAML config supplying controller settings in DB mode")
	last := fs.Int("last", 0, "replay only the N most recent readings from a fresh controller, 0 for all")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if (*dbPath == "") == (*fixturePath == "") {
		fmt.Fprintln(stderr, "usage: replay --fixture path/to/fixture.json")
		fmt.Fprintln(stderr, "       replay --db path/to/phase.db [--agent id] [--config phase.yaml] [--last N]")
		return 2
	}

	if *fixturePath != "" {
		return runFixtureMode(*fixturePath, stdout, stderr)
	}
	return runDBMode(*dbPath, *agentID, *configPath, *last, stdout, stderr)
}
// #endregion main

// #region fixture-mode
func runFixtureMode(path string, stdout, stderr io.Writer) int {
	f, err := replay.LoadFixture(path)
	if err != nil {
		fmt.Fprintf(stderr, "load fixture: %v\n", err)
		return 2
	}
	if f.Description != "" {
		fmt.Fprintf(stdout, "%s\n\n", f.Description)
	}

	results, final, err := replay.Replay(f.StartSnapshot(), f.Events(), f.Config.ToControllerConfig())
	if err != nil {
		fmt.Fprintf(stderr, "replay: %v\n", err)
		return 2
	}
	return printComparison(stdout, results, f.Expected, final)
}
// #endregion fixture-mode

// #region db-mode
func runDBMode(dbPath, agentID, configPath string, last int, stdout, stderr io.Writer) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 2
	}
	if agentID == "" {
		agentID = cfg.Agent.ID
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 2
	}

	store, err := state.NewStore(dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "open db: %v\n", err)
		return 2
	}
	defer store.Close()

	start, err := startSnapshot(store, agentID, last)
	if err != nil {
		fmt.Fprintf(stderr, "find start state: %v\n", err)
		return 2
	}

	events, expected, err := replay.FromAudit(store.DB(), agentID, last)
	if err != nil {
		fmt.Fprintf(stderr, "read audit log: %v\n", err)
		return 2
	}
	if len(events) == 0 {
		fmt.Fprintf(stderr, "no readings recorded for %s\n", agentID)
		return 2
	}

	results, final, err := replay.Replay(start, events, cfg.ControllerConfig())
	if err != nil {
		fmt.Fprintf(stderr, "replay: %v\n", err)
		return 2
	}
	return printComparison(stdout, results, expected, final)
}

// startSnapshot is the agent's first version. A partial replay (--last)
// starts from a fresh controller instead.
func startSnapshot(store *state.Store, agentID string, last int) (mode.Snapshot, error) {
	if last > 0 {
		return mode.Snapshot{}, nil
	}
	return replay.StartFromStore(store, agentID)
}
// #endregion db-mode

// #region output
// printComparison outputs a comparison table and returns the exit code.
func printComparison(w io.Writer, results []replay.ReplayResult, expected []replay.Expected, final mode.Snapshot) int {
	fmt.Fprintf(w, "%-10s| %7s | %7s | %-8s| %-8s| %-11s| %s\n",
		"Reading", "V_SP", "Trend", "Expected", "Replayed", "Action", "Match")
	fmt.Fprintf(w, "%-10s+%9s+%9s+%-9s+%-9s+%-12s+%s\n",
		"----------", "---------", "---------", "---------", "---------", "------------", "------")

	n := min(len(results), len(expected))
	for i := 0; i < n; i++ {
		r, e := results[i], expected[i]
		match := "OK"
		if r.Mode != e.Mode || (e.Action != "" && r.Action != e.Action) {
			match = "DIFF"
		}
		fmt.Fprintf(w, "%-10s| %7.4f | %7.4f | %-8s| %-8s| %-11s| %s\n",
			r.ID, r.Value, r.Trend, e.Mode, r.Mode, r.Action, match)
	}

	s := replay.Summarize(results, final)
	fmt.Fprintf(w, "\nSummary: %d readings, %d holds, %d escalations, %d de-escalations, %d debounced, %d rejected\n",
		s.TotalReadings, s.Holds, s.Escalations, s.DeEscalations, s.Debounced, s.Rejected)
	fmt.Fprintf(w, "Final:   %s (trend %.4f)\n", s.FinalState.State.Mode, s.FinalState.Trend.Current)

	mismatches := replay.Check(results, expected)
	if len(mismatches) == 0 {
		fmt.Fprintln(w, "Result:  all readings match")
		return 0
	}
	fmt.Fprintf(w, "Result:  %d mismatches\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Fprintf(w, "  %s\n", m)
	}
	return 1
}
// #endregion output
