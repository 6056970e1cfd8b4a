// Package utils provides the error taxonomy shared by the greensplit packages
package utils

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Error codes
const (
	CodeInvalidDemandKind     = "INVALID_DEMAND_KIND"
	CodeNegativeCount         = "NEGATIVE_COUNT"
	CodeCounterOverflow       = "COUNTER_OVERFLOW"
	CodeUnknownNode           = "UNKNOWN_NODE"
	CodeAllocationConsistency = "ALLOCATION_CONSISTENCY"
	CodePriorityOverflow      = "PRIORITY_OVERFLOW"
	CodeInvalidBudget         = "INVALID_BUDGET"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeCycleInProgress       = "CYCLE_IN_PROGRESS"
	CodeInvalidConfiguration  = "INVALID_CONFIGURATION"
)

// GreensplitError is a coded error carrying the node and phase it relates to.
// Two GreensplitErrors match under errors.Is when their codes are equal.
type GreensplitError struct {
	Code    string
	Message string
	NodeID  *int
	Phase   string
	Cause   error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *GreensplitError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.NodeID != nil {
		parts = append(parts, fmt.Sprintf("node: %d", *e.NodeID))
	}

	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase: %s", e.Phase))
	}

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		details := make([]string, 0, len(keys))
		for _, k := range keys {
			details = append(details, fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		parts = append(parts, fmt.Sprintf("details: {%s}", strings.Join(details, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " - ")
}

// Is reports whether target is a GreensplitError with the same code
func (e *GreensplitError) Is(target error) bool {
	t, ok := target.(*GreensplitError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Unwrap returns the underlying cause
func (e *GreensplitError) Unwrap() error {
	return e.Cause
}

// clone copies the receiver so the package-level sentinels are never mutated
func (e *GreensplitError) clone() *GreensplitError {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

// WithNode returns a copy of the error tagged with a node id
func (e *GreensplitError) WithNode(id int) *GreensplitError {
	c := e.clone()
	c.NodeID = &id
	return c
}

// WithPhase returns a copy of the error tagged with a cycle phase
func (e *GreensplitError) WithPhase(phase string) *GreensplitError {
	c := e.clone()
	c.Phase = phase
	return c
}

// WithCause returns a copy of the error wrapping err
func (e *GreensplitError) WithCause(err error) *GreensplitError {
	c := e.clone()
	c.Cause = err
	return c
}

// WithDetail returns a copy of the error with an extra detail
func (e *GreensplitError) WithDetail(key string, value interface{}) *GreensplitError {
	c := e.clone()
	if c.Details == nil {
		c.Details = make(map[string]interface{})
	}
	c.Details[key] = value
	return c
}

// WithMessage returns a copy of the error with a different message
func (e *GreensplitError) WithMessage(format string, args ...interface{}) *GreensplitError {
	c := e.clone()
	c.Message = fmt.Sprintf(format, args...)
	return c
}

var (
	// ErrInvalidDemandKind is returned when demand is recorded under an unrecognized category
	ErrInvalidDemandKind = &GreensplitError{
		Code:    CodeInvalidDemandKind,
		Message: "unrecognized demand kind",
	}

	// ErrNegativeCount is returned when a demand count is below zero
	ErrNegativeCount = &GreensplitError{
		Code:    CodeNegativeCount,
		Message: "demand count cannot be negative",
	}

	// ErrCounterOverflow is returned when a count would push a demand counter past math.MaxInt
	ErrCounterOverflow = &GreensplitError{
		Code:    CodeCounterOverflow,
		Message: "demand counter would overflow",
	}

	// ErrUnknownNode is returned when demand targets an identity the controller does not track
	ErrUnknownNode = &GreensplitError{
		Code:    CodeUnknownNode,
		Message: "no intersection with this identity",
	}

	// ErrAllocationConsistency is returned when the ranked list and the node collection disagree
	ErrAllocationConsistency = &GreensplitError{
		Code:    CodeAllocationConsistency,
		Message: "ranked entries do not match the node collection",
	}

	// ErrPriorityOverflow is returned when a priority or the priority total is not finite
	ErrPriorityOverflow = &GreensplitError{
		Code:    CodePriorityOverflow,
		Message: "priority overflowed",
	}

	// ErrInvalidBudget is returned when the green-time budget is not a positive finite number
	ErrInvalidBudget = &GreensplitError{
		Code:    CodeInvalidBudget,
		Message: "green time budget must be positive and finite",
	}

	// ErrInvalidTransition is returned when the cycle phase machine is asked for an illegal move
	ErrInvalidTransition = &GreensplitError{
		Code:    CodeInvalidTransition,
		Message: "invalid transition from current phase",
	}

	// ErrCycleInProgress is returned when a cycle is requested while another is running
	ErrCycleInProgress = &GreensplitError{
		Code:    CodeCycleInProgress,
		Message: "a cycle is already in progress",
	}

	// ErrInvalidConfiguration is returned when configuration validation fails
	ErrInvalidConfiguration = &GreensplitError{
		Code:    CodeInvalidConfiguration,
		Message: "invalid configuration",
	}
)

// NewConsistencyError reports a ranked or tracked identity without its counterpart
func NewConsistencyError(message string, nodeID int) *GreensplitError {
	return ErrAllocationConsistency.WithMessage("%s", message).WithNode(nodeID)
}

// NewTransitionError creates an error for an illegal phase move
func NewTransitionError(from, to string) *GreensplitError {
	return ErrInvalidTransition.
		WithPhase(from).
		WithDetail("target_phase", to)
}

// NewConfigurationError creates an error for a single configuration problem
func NewConfigurationError(field string, message string) *GreensplitError {
	return ErrInvalidConfiguration.
		WithMessage("%s", message).
		WithDetail("field", field)
}

// ErrorCollector collects errors from independent operations, such as the
// ingestion calls of a single cycle. It is safe for concurrent use.
type ErrorCollector struct {
	mutex sync.Mutex
	err   error
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{}
}

// Add adds an error to the collector
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.err = multierr.Append(ec.err, err)
}

// HasErrors returns whether any errors were collected
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	return ec.err != nil
}

// GetErrors returns all collected errors
func (ec *ErrorCollector) GetErrors() []error {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	return multierr.Errors(ec.err)
}

// Err returns the combined error, or nil
func (ec *ErrorCollector) Err() error {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	return ec.err
}

// Error returns a string representation of all errors
func (ec *ErrorCollector) Error() string {
	errs := ec.GetErrors()
	if len(errs) == 0 {
		return "no errors"
	}

	if len(errs) == 1 {
		return errs[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(errs)))

	for i, err := range errs {
		sb.WriteString(fmt.Sprintf("  %d: %v\n", i+1, err))
	}

	return sb.String()
}
