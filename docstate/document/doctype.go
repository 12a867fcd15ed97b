package document

import (
	"errors"
	"fmt"
)

// ErrGraphInvalid indicates a malformed document type: unknown or duplicate
// state names, a transition referencing a state outside the set, or a missing
// processor. It is fatal to engine construction.
var ErrGraphInvalid = errors.New("invalid document type")

// State identifies a pipeline stage. Equality is by name.
type State struct {
	Name string
}

// Transition is a directed edge of the pipeline graph: documents in From are
// advanced to To by invoking Process. Several transitions may share a From
// state for introspection, but the executor always takes the first one
// registered.
type Transition struct {
	From    State
	To      State
	Process Processor
}

// Type is an immutable document type: an ordered set of states plus an
// ordered list of transitions between them. A Type is validated once at
// construction and is safe to share across concurrent pipeline runs; to
// change the graph, build a new Type and rebind it on the engine.
type Type struct {
	states      []State
	transitions []Transition
	byFrom      map[string][]Transition
	finalNames  []string
}

// NewType validates the states and transitions and builds the derived
// lookups (per-state transition lists, final-state set).
//
// Validation failures wrap ErrGraphInvalid:
//   - empty or duplicate state names
//   - a transition whose From or To is not in the state set
//   - a transition with a nil processor
func NewType(states []State, transitions []Transition) (*Type, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("%w: no states", ErrGraphInvalid)
	}

	known := make(map[string]struct{}, len(states))
	for _, s := range states {
		if s.Name == "" {
			return nil, fmt.Errorf("%w: state with empty name", ErrGraphInvalid)
		}
		if _, dup := known[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate state %q", ErrGraphInvalid, s.Name)
		}
		known[s.Name] = struct{}{}
	}

	byFrom := make(map[string][]Transition)
	for i, tr := range transitions {
		if _, ok := known[tr.From.Name]; !ok {
			return nil, fmt.Errorf("%w: transition %d: unknown from state %q", ErrGraphInvalid, i, tr.From.Name)
		}
		if _, ok := known[tr.To.Name]; !ok {
			return nil, fmt.Errorf("%w: transition %d: unknown to state %q", ErrGraphInvalid, i, tr.To.Name)
		}
		if tr.Process == nil {
			return nil, fmt.Errorf("%w: transition %q -> %q: nil processor", ErrGraphInvalid, tr.From.Name, tr.To.Name)
		}
		byFrom[tr.From.Name] = append(byFrom[tr.From.Name], tr)
	}

	// A state is final iff it has no outgoing transition. Order follows
	// state registration so results are deterministic.
	var finalNames []string
	for _, s := range states {
		if len(byFrom[s.Name]) == 0 {
			finalNames = append(finalNames, s.Name)
		}
	}

	return &Type{
		states:      append([]State(nil), states...),
		transitions: append([]Transition(nil), transitions...),
		byFrom:      byFrom,
		finalNames:  finalNames,
	}, nil
}

// TransitionsFrom returns the transitions leaving the named state in
// registration order. The first entry is the one the executor picks. The
// result is a copy and may be modified by the caller.
func (t *Type) TransitionsFrom(stateName string) []Transition {
	trs := t.byFrom[stateName]
	if len(trs) == 0 {
		return nil
	}
	return append([]Transition(nil), trs...)
}

// FinalStateNames returns the names of states with no outgoing transition,
// in state registration order. The engine's terminal set additionally
// includes its configured error state.
func (t *Type) FinalStateNames() []string {
	return append([]string(nil), t.finalNames...)
}

// HasState reports whether the named state belongs to the type.
func (t *Type) HasState(name string) bool {
	for _, s := range t.states {
		if s.Name == name {
			return true
		}
	}
	return false
}

// States returns the states in registration order.
func (t *Type) States() []State {
	return append([]State(nil), t.states...)
}

// Transitions returns all transitions in registration order.
func (t *Type) Transitions() []Transition {
	return append([]Transition(nil), t.transitions...)
}
