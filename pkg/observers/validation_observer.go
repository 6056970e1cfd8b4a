package observers

import (
	"fmt"
	"math"
	"sync"

	"github.com/anggasct/greensplit/pkg/cycle"
)

// DefaultTolerance is the relative error allowed when checking that shares
// add up to the budget
const DefaultTolerance = 1e-9

// ValidationObserver checks every cycle report against the allocation
// guarantees and the phase order, and records violations instead of failing
type ValidationObserver struct {
	cycle.BaseObserver

	tolerance  float64
	mutex      sync.RWMutex
	lastPhase  cycle.Phase
	violations []string
	checked    int
}

// NewValidationObserver creates a validation observer
func NewValidationObserver() *ValidationObserver {
	return &ValidationObserver{
		tolerance:  DefaultTolerance,
		lastPhase:  cycle.PhaseIdle,
		violations: make([]string, 0),
	}
}

// addViolation adds a violation; callers hold the mutex
func (o *ValidationObserver) addViolation(format string, args ...interface{}) {
	o.violations = append(o.violations, fmt.Sprintf(format, args...))
}

// OnPhaseEnter validates that phases follow the transition table
func (o *ValidationObserver) OnPhaseEnter(info cycle.CycleInfo, phase cycle.Phase) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	allowed := false
	for _, t := range cycle.Transitions() {
		if t.From == o.lastPhase && t.To == phase {
			allowed = true
			break
		}
	}
	if !allowed {
		o.addViolation("cycle %d: invalid transition from '%s' to '%s'", info.Seq, o.lastPhase, phase)
	}
	o.lastPhase = phase
}

// OnCycleComplete validates the shares of a cycle
func (o *ValidationObserver) OnCycleComplete(report *cycle.CycleReport) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.checked++

	if len(report.Ranked) != len(report.Nodes) {
		o.addViolation("cycle %d: %d ranked entries for %d nodes", report.Seq, len(report.Ranked), len(report.Nodes))
	}
	for i := 1; i < len(report.Ranked); i++ {
		if report.Ranked[i].Priority > report.Ranked[i-1].Priority {
			o.addViolation("cycle %d: ranking not descending at position %d", report.Seq, i)
		}
	}

	sum := 0.0
	for _, n := range report.Nodes {
		if math.IsNaN(n.GreenTime) || n.GreenTime < 0 || n.GreenTime > report.Budget {
			o.addViolation("cycle %d: node %d green time %v outside [0, %v]", report.Seq, n.ID, n.GreenTime, report.Budget)
		}
		if n.Vehicles < 0 || n.Pedestrians < 0 {
			o.addViolation("cycle %d: node %d has negative demand", report.Seq, n.ID)
		}
		sum += n.GreenTime
	}

	if report.AllocationError == nil && report.TotalPriority > 0 &&
		math.Abs(sum-report.Budget) > o.tolerance*report.Budget {
		o.addViolation("cycle %d: shares sum to %v, budget is %v", report.Seq, sum, report.Budget)
	}
}

// OnAllocationError records the aborted allocation as a violation
func (o *ValidationObserver) OnAllocationError(info cycle.CycleInfo, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.addViolation("cycle %d: allocation aborted: %v", info.Seq, err)
}

// GetViolations returns all validation violations
func (o *ValidationObserver) GetViolations() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make([]string, len(o.violations))
	copy(result, o.violations)
	return result
}

// HasViolations returns whether any violations occurred
func (o *ValidationObserver) HasViolations() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.violations) > 0
}

// CheckedCycles returns the number of reports validated
func (o *ValidationObserver) CheckedCycles() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.checked
}

// Reset resets the validation state
func (o *ValidationObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.lastPhase = cycle.PhaseIdle
	o.violations = make([]string, 0)
	o.checked = 0
}
