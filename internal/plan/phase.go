package plan

import (
	"errors"
	"fmt"

	"github.com/hyperengineering/planlearn/internal/stream"
)

// Phase is a stage of the Plan & Learn workflow.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRecall   Phase = "recall"
	PhasePlan     Phase = "plan"
	PhaseExecute  Phase = "execute"
	PhaseLearn    Phase = "learn"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

var phaseOrder = []Phase{PhaseIdle, PhaseRecall, PhasePlan, PhaseExecute, PhaseLearn, PhaseComplete}

func phaseIndex(p Phase) int {
	for i, q := range phaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Machine is the linear workflow phase machine. The zero value starts idle.
type Machine struct {
	phase Phase
	err   error
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	if m.phase == "" {
		return PhaseIdle
	}
	return m.phase
}

// Err returns the error recorded by Fail.
func (m *Machine) Err() error {
	return m.err
}

// Advance moves to next, which must directly follow the current phase.
func (m *Machine) Advance(next Phase) error {
	cur := m.Current()
	if cur.Terminal() || phaseIndex(next) != phaseIndex(cur)+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	m.phase = next
	return nil
}

// Fail moves any non-terminal phase to error.
func (m *Machine) Fail(err error) error {
	cur := m.Current()
	if cur.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, PhaseError)
	}
	m.phase = PhaseError
	m.err = err
	return nil
}

// Reduce moves the machine forward in response to a chat stream event.
// Stream turns may skip phases (a reply without tools never plans), so
// Reduce jumps ahead but never moves backwards or out of a terminal phase.
func (m *Machine) Reduce(ev stream.Event) Phase {
	if m.Current().Terminal() {
		return m.Current()
	}

	var target Phase
	switch ev.Type {
	case stream.TypeRecallStart, stream.TypeRecallComplete:
		target = PhaseRecall
	case stream.TypeLLMStart:
		target = PhasePlan
	case stream.TypeToolExecutionStart, stream.TypeToolExecutionComplete:
		target = PhaseExecute
	case stream.TypeStoreStart:
		target = PhaseLearn
	case stream.TypeStoreComplete:
		target = PhaseComplete
	case stream.TypeError:
		_ = m.Fail(errors.New(ev.Message))
		return m.Current()
	default:
		return m.Current()
	}

	if phaseIndex(target) > phaseIndex(m.Current()) {
		m.phase = target
	}
	return m.Current()
}
