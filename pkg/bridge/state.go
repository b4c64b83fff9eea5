package bridge

import (
	"fmt"

	"go.uber.org/zap"
)

// State is the lifecycle position of one bridge attempt
type State string

const (
	StateIdle         State = "idle"
	StateQuoting      State = "quoting"
	StateComposing    State = "composing"
	StateEstimating   State = "estimating"
	StateRejected     State = "rejected"
	StateSubmitted    State = "submitted"
	StateConfirmed    State = "confirmed"
	StateReverted     State = "reverted"
	StateReconciling  State = "reconciling"
	StateSettled      State = "settled"
	StateUnreconciled State = "unreconciled"
	// StateUnconfirmed ends an attempt whose transaction was broadcast but
	// not confirmed within the wait policy.
	StateUnconfirmed State = "unconfirmed"
)

var transitions = map[State][]State{
	StateIdle:        {StateQuoting, StateRejected},
	StateQuoting:     {StateComposing, StateRejected},
	StateComposing:   {StateEstimating, StateRejected},
	StateEstimating:  {StateSubmitted, StateRejected},
	StateSubmitted:   {StateConfirmed, StateReverted, StateUnconfirmed},
	StateConfirmed:   {StateReconciling},
	StateReconciling: {StateSettled, StateUnreconciled},
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Broadcast reports whether a transaction exists for an attempt in this state
func (s State) Broadcast() bool {
	switch s {
	case StateSubmitted, StateConfirmed, StateReverted, StateReconciling, StateSettled, StateUnreconciled, StateUnconfirmed:
		return true
	default:
		return false
	}
}

// machine tracks one attempt. States are only ever entered once.
type machine struct {
	current State
	history []State
	logger  *zap.Logger
}

func newMachine(logger *zap.Logger) *machine {
	return &machine{current: StateIdle, history: []State{StateIdle}, logger: logger}
}

func (m *machine) advance(next State) error {
	allowed := false
	for _, s := range transitions[m.current] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid transition %s -> %s", m.current, next)
	}

	m.logger.Debug("state", zap.String("from", string(m.current)), zap.String("to", string(next)))
	m.current = next
	m.history = append(m.history, next)
	return nil
}

// mustAdvance is for transitions the pipeline's own control flow guarantees
func (m *machine) mustAdvance(next State) {
	if err := m.advance(next); err != nil {
		panic(err)
	}
}
