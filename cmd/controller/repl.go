package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danielpatrickdp/phase-controller/internal/session"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
)

// #region input
// lineInput is one REPL line: a bare JSON vector, a JSON object, or plain text.
// Affect and Causes build the lensing terms when Lensing is not given directly.
type lineInput struct {
	Vector  []float32               `json:"vector"`
	Text    string                  `json:"text"`
	Lensing *signals.LensingWeights `json:"lensing"`
	Affect  *affect                 `json:"affect"`
	Causes  map[string]float64      `json:"causes"`
}

type affect struct {
	Valence float64 `json:"valence"`
	Arousal float64 `json:"arousal"`
}

func (in lineInput) lensing() *signals.LensingWeights {
	if in.Lensing != nil || (in.Affect == nil && len(in.Causes) == 0) {
		return in.Lensing
	}
	lw := &signals.LensingWeights{Causal: signals.CausalTerm(in.Causes)}
	if in.Affect != nil {
		lw.Emotional = signals.EmotionalTerm(in.Affect.Valence, in.Affect.Arousal)
	}
	return lw
}

func parseLine(line string) (lineInput, error) {
	var in lineInput
	switch {
	case strings.HasPrefix(line, "["):
		if err := json.Unmarshal([]byte(line), &in.Vector); err != nil {
			return lineInput{}, fmt.Errorf("parse vector: %w", err)
		}
	case strings.HasPrefix(line, "{"):
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			return lineInput{}, fmt.Errorf("parse input: %w", err)
		}
		if in.Vector == nil && in.Text == "" {
			return lineInput{}, errors.New("input needs a vector or text")
		}
	default:
		in.Text = line
	}
	return in, nil
}
// #endregion input

// #region repl
func repl(ctx context.Context, sess *session.Session, r io.Reader, w io.Writer) error {
	fmt.Fprintln(w, "Phase controller ready.")
	fmt.Fprintln(w, "Enter a JSON vector, {\"vector\":[...],\"lensing\":{...}}, text, :status, :reset or quit.")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)

	for {
		fmt.Fprint(w, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		switch line {
		case ":status":
			printStatus(w, sess.Status())
			continue
		case ":reset":
			versionID, err := sess.Reset()
			if err != nil {
				fmt.Fprintf(w, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "reset to idle (version %s)\n", versionID)
			continue
		}

		in, err := parseLine(line)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}

		var out session.Outcome
		if in.Vector != nil {
			out, err = sess.Step(ctx, in.Vector, in.lensing())
		} else {
			out, err = sess.StepText(ctx, in.Text, in.lensing())
		}
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(w, formatOutcome(out))
	}
	return scanner.Err()
}

func formatOutcome(out session.Outcome) string {
	ev := out.Evaluation
	s := fmt.Sprintf("vsp=%.4f trend=%.4f mode=%s match=%d",
		out.Reading.Value, ev.Trend, ev.State.Mode, out.Reading.MatchIndex)
	switch {
	case ev.Transitioned:
		s += fmt.Sprintf(" (%s -> %s)", ev.Previous, ev.State.Mode)
	case ev.Debounced:
		s += fmt.Sprintf(" (debounced -> %s)", ev.Candidate)
	}
	return s
}

func printStatus(w io.Writer, st session.Status) {
	fmt.Fprintf(w, "Agent:    %s\n", st.AgentID)
	fmt.Fprintf(w, "Version:  %s\n", st.VersionID)
	fmt.Fprintf(w, "Mode:     %s (for %s)\n", st.Stats.Mode, st.Stats.TimeInMode.Round(time.Millisecond))
	fmt.Fprintf(w, "Trend:    %.4f\n", st.Stats.Trend)
	fmt.Fprintf(w, "Readings: %d (transitions %d, debounced %d)\n",
		st.Stats.Evaluations, st.Stats.Transitions, st.Stats.Debounced)
	fmt.Fprintf(w, "Basis:    %s (%d vectors)\n", st.Basis.ID, st.Basis.Len())
	if len(st.History) > 0 {
		parts := make([]string, len(st.History))
		for i, v := range st.History {
			parts[i] = fmt.Sprintf("%.2f", v)
		}
		fmt.Fprintf(w, "Recent:   %s\n", strings.Join(parts, " "))
	}
}
// #endregion repl
