package main

import (
	"encoding/json"
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
	dbPath := flag.String("db", "", "path to state database (defaults to the config's)")
	agentID := flag.String("agent", "", "agent to export (defaults to the config agent)")
	configPath := flag.String("config", "phase.yaml", "YAML config supplying controller settings")
	last := flag.Int("last", 0, "export only the N most recent readings, 0 for all")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --out path/to/fixture.json [--db phase.db] [--agent id] [--config phase.yaml] [--last N]")
		os.Exit(2)
	}

	if err := run(*configPath, *dbPath, *agentID, *last, *outPath, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
// #endregion main

// #region extract
func run(configPath, dbPath, agentID string, last int, outPath string, stdout io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath == "" {
		dbPath = cfg.Storage.StateDB
	}
	if agentID == "" {
		agentID = cfg.Agent.ID
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	store, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer store.Close()

	var start mode.Snapshot
	if last <= 0 {
		if start, err = replay.StartFromStore(store, agentID); err != nil {
			return fmt.Errorf("find start state: %w", err)
		}
	}

	events, expected, err := replay.FromAudit(store.DB(), agentID, last)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	if len(events) == 0 {
		return fmt.Errorf("no readings recorded for %s", agentID)
	}
	fmt.Fprintf(stdout, "Found %d readings for %s\n", len(events), agentID)

	fixture := replay.ExportFixture(start, events, expected, cfg.ControllerConfig())
	fixture.Description = fmt.Sprintf("Recorded stream for %s: %d readings", agentID, len(events))
	return writeFixture(stdout, fixture, outPath)
}
// #endregion extract

// #region output
func writeFixture(stdout io.Writer, fixture replay.Fixture, outPath string) error {
	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Fprintf(stdout, "Wrote fixture to %s (%d bytes, %d readings)\n", outPath, len(data), len(fixture.Readings))
	return nil
}
// #endregion output
