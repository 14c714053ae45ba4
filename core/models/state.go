package models

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Phase is the lifecycle position of a job
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
)

// Conclusion is the outcome of a completed job
type Conclusion string

const (
	ConclusionSuccess        Conclusion = "success"
	ConclusionFailure        Conclusion = "failure"
	ConclusionCancelled      Conclusion = "cancelled"
	ConclusionSkipped        Conclusion = "skipped"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionTimedOut       Conclusion = "timed_out"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionStale          Conclusion = "stale"
	ConclusionStartupFailure Conclusion = "startup_failure"
)

var knownConclusions = map[Conclusion]bool{
	ConclusionSuccess:        true,
	ConclusionFailure:        true,
	ConclusionCancelled:      true,
	ConclusionSkipped:        true,
	ConclusionNeutral:        true,
	ConclusionTimedOut:       true,
	ConclusionActionRequired: true,
	ConclusionStale:          true,
	ConclusionStartupFailure: true,
}

// ParseConclusion validates a conclusion reported by the CI platform
func ParseConclusion(s string) (Conclusion, error) {
	c := Conclusion(s)
	if !knownConclusions[c] {
		return "", fmt.Errorf("unknown conclusion %q", s)
	}
	return c, nil
}

// State is the lifecycle state of a job: Queued, InProgress or Completed with
// a conclusion. The zero value is Queued. A conclusion can only be attached
// through Completed, so a non-terminal state never carries one.
type State struct {
	phase      Phase
	conclusion Conclusion
}

// Queued returns the queued state
func Queued() State { return State{phase: PhaseQueued} }

// InProgress returns the in-progress state
func InProgress() State { return State{phase: PhaseInProgress} }

// Completed returns the terminal state with the given conclusion
func Completed(c Conclusion) State { return State{phase: PhaseCompleted, conclusion: c} }

// ParseState rebuilds a state from its stored columns
func ParseState(status, conclusion string) (State, error) {
	switch Phase(status) {
	case PhaseQueued, "":
		if conclusion != "" {
			return State{}, fmt.Errorf("conclusion %q on non-terminal status %q", conclusion, status)
		}
		return Queued(), nil
	case PhaseInProgress:
		if conclusion != "" {
			return State{}, fmt.Errorf("conclusion %q on non-terminal status %q", conclusion, status)
		}
		return InProgress(), nil
	case PhaseCompleted:
		c, err := ParseConclusion(conclusion)
		if err != nil {
			return State{}, err
		}
		return Completed(c), nil
	default:
		return State{}, fmt.Errorf("unknown status %q", status)
	}
}

// Phase returns the lifecycle phase
func (s State) Phase() Phase {
	if s.phase == "" {
		return PhaseQueued
	}
	return s.phase
}

// Conclusion returns the conclusion and whether the state is terminal
func (s State) Conclusion() (Conclusion, bool) {
	return s.conclusion, s.phase == PhaseCompleted
}

// IsTerminal reports whether no further transitions are allowed
func (s State) IsTerminal() bool { return s.phase == PhaseCompleted }

// Rank orders phases: queued < in_progress < completed
func (s State) Rank() int {
	switch s.Phase() {
	case PhaseInProgress:
		return 1
	case PhaseCompleted:
		return 2
	default:
		return 0
	}
}

func (s State) String() string {
	if s.IsTerminal() {
		return fmt.Sprintf("%s(%s)", s.phase, s.conclusion)
	}
	return string(s.Phase())
}

type stateWire struct {
	Status     Phase      `json:"status"`
	Conclusion Conclusion `json:"conclusion,omitempty"`
}

// MarshalJSON encodes the state as {"status": ..., "conclusion": ...}
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateWire{Status: s.Phase(), Conclusion: s.conclusion})
}

// UnmarshalJSON decodes and validates a state
func (s *State) UnmarshalJSON(data []byte) error {
	var w stateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := ParseState(string(w.Status), string(w.Conclusion))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// GobEncode lets the embedded store persist the unexported fields
func (s State) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(stateWire{Status: s.Phase(), Conclusion: s.conclusion}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode is the inverse of GobEncode
func (s *State) GobDecode(data []byte) error {
	var w stateWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	parsed, err := ParseState(string(w.Status), string(w.Conclusion))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
