// Package termination decides when a routed conversation is over. The
// supervisor consults it before every classification call, and the
// conversation loop uses its phase machine to assert that every run
// converges on a single terminal state.
package termination

import (
	"fmt"

	"github.com/nugget/switchboard/internal/conversation"
)

// Reason is the terminal reason recorded for a finished conversation.
type Reason string

const (
	// ReasonAnswer means the supervisor answered directly.
	ReasonAnswer Reason = "Answer"
	// ReasonLoopExhausted means every handler declined.
	ReasonLoopExhausted Reason = "LoopExhausted"
	// ReasonMalformedClassifier means the classifier output was unusable.
	ReasonMalformedClassifier Reason = "MalformedClassifier"
	// ReasonInvalidTarget means the classifier named an unknown handler.
	ReasonInvalidTarget Reason = "InvalidTarget"
	// ReasonFinish means the classifier chose FINISH without an answer,
	// typically after a handler already replied.
	ReasonFinish Reason = "Finish"
)

// Registry is the part of the handler registry the policy needs.
type Registry interface {
	Len() int
	Declined(m conversation.Message) bool
}

// Tally counts the distinct handlers that have declined in history. Only
// messages authored by a registered handler whose content is that
// handler's own sentinel count; supervisor and user messages never do.
// A handler that declines more than once still counts once.
func Tally(reg Registry, history []conversation.Message) int {
	declined := make(map[string]struct{})
	for _, m := range history {
		if m.Sender == conversation.SenderUser || m.Sender == conversation.SenderSupervisor {
			continue
		}
		if reg.Declined(m) {
			declined[m.Sender] = struct{}{}
		}
	}
	return len(declined)
}

// Exhausted reports whether every handler has declined.
func Exhausted(reg Registry, history []conversation.Message) bool {
	return Tally(reg, history) >= reg.Len()
}

// MaxSteps is the number of routing steps a conversation can take when no
// handler ever answers: one per decline plus the final apology step.
func MaxSteps(reg Registry) int {
	return reg.Len() + 1
}

// Phase is a conversation lifecycle phase.
type Phase int

const (
	PhaseRouting Phase = iota
	PhaseDelegated
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseRouting:
		return "routing"
	case PhaseDelegated:
		return "delegated"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Machine tracks ROUTING -> DELEGATED -> ROUTING ... -> FINISHED.
// It is owned by a single conversation and is not safe for concurrent use.
type Machine struct {
	phase  Phase
	reason Reason
	steps  int
}

// NewMachine returns a machine in the routing phase.
func NewMachine() *Machine {
	return &Machine{phase: PhaseRouting}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.phase }

// Reason returns the terminal reason once finished.
func (m *Machine) Reason() Reason { return m.reason }

// Steps returns the number of routing steps taken.
func (m *Machine) Steps() int { return m.steps }

// Routed records a routing step that delegated to a handler.
func (m *Machine) Routed() error {
	if m.phase != PhaseRouting {
		return fmt.Errorf("cannot delegate from %s", m.phase)
	}
	m.steps++
	m.phase = PhaseDelegated
	return nil
}

// Handled records that the delegated handler appended its reply.
func (m *Machine) Handled() error {
	if m.phase != PhaseDelegated {
		return fmt.Errorf("cannot return to routing from %s", m.phase)
	}
	m.phase = PhaseRouting
	return nil
}

// Pinned moves straight to the delegated phase for conversations whose
// first hop is fixed by the caller, such as queued events.
func (m *Machine) Pinned() error {
	if m.phase != PhaseRouting || m.steps != 0 {
		return fmt.Errorf("pin only allowed at conversation start")
	}
	m.phase = PhaseDelegated
	return nil
}

// Finish records the terminal routing step.
func (m *Machine) Finish(reason Reason) error {
	if m.phase != PhaseRouting {
		return fmt.Errorf("cannot finish from %s", m.phase)
	}
	m.steps++
	m.phase = PhaseFinished
	m.reason = reason
	return nil
}
