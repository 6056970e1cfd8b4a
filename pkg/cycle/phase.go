package cycle

import (
	"sync"

	"github.com/anggasct/greensplit/pkg/utils"
)

// Phase is a step of the control cycle
type Phase int

const (
	// PhaseIdle is the resting phase between cycles
	PhaseIdle Phase = iota
	// PhaseIngesting collects demand from the configured source
	PhaseIngesting
	// PhaseRanking orders a snapshot of the nodes by priority
	PhaseRanking
	// PhaseAllocating divides the budget and writes green times
	PhaseAllocating
	// PhaseObserving hands the cycle report to observers
	PhaseObserving
	// PhaseResetting zeroes every node's demand counters
	PhaseResetting
)

var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhaseIngesting:  "ingesting",
	PhaseRanking:    "ranking",
	PhaseAllocating: "allocating",
	PhaseObserving:  "observing",
	PhaseResetting:  "resetting",
}

// String returns the lowercase phase name
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Phases lists every phase in cycle order
func Phases() []Phase {
	return []Phase{PhaseIdle, PhaseIngesting, PhaseRanking, PhaseAllocating, PhaseObserving, PhaseResetting}
}

// Transition is an edge of the phase machine
type Transition struct {
	From  Phase
	To    Phase
	Event string
}

// transitions is the complete phase machine. It has no terminal phase; the
// host stops the loop by cancelling its context while idle.
var transitions = []Transition{
	{From: PhaseIdle, To: PhaseIngesting, Event: "collect"},
	{From: PhaseIngesting, To: PhaseRanking, Event: "rank"},
	{From: PhaseRanking, To: PhaseAllocating, Event: "allocate"},
	{From: PhaseAllocating, To: PhaseObserving, Event: "observe"},
	{From: PhaseObserving, To: PhaseResetting, Event: "reset"},
	{From: PhaseResetting, To: PhaseIdle, Event: "complete"},
}

// Transitions returns a copy of the phase machine's edges
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// phaseMachine tracks the current phase and rejects moves not in the table
type phaseMachine struct {
	mutex   sync.RWMutex
	current Phase
}

func (m *phaseMachine) phase() Phase {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

func (m *phaseMachine) advance(to Phase) (Transition, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, t := range transitions {
		if t.From == m.current && t.To == to {
			m.current = to
			return t, nil
		}
	}
	return Transition{}, utils.NewTransitionError(m.current.String(), to.String())
}

// abort returns the machine to idle after a failed cycle
func (m *phaseMachine) abort() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.current = PhaseIdle
}
