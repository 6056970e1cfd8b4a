// Package greensplit provides an adaptive green-time allocator for a group of
// signalised intersections. Each cycle the controller ranks intersections by
// weighted vehicle and pedestrian demand and splits a fixed green-time budget
// between them in proportion to that demand.
package greensplit

import (
	"time"

	"github.com/anggasct/greensplit/pkg/allocation"
	"github.com/anggasct/greensplit/pkg/config"
	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/demand"
	"github.com/anggasct/greensplit/pkg/intersection"
	"github.com/anggasct/greensplit/pkg/observers"
	"github.com/anggasct/greensplit/pkg/ranking"
	"github.com/anggasct/greensplit/pkg/utils"
)

// Core types
type (
	// Controller drives the allocation cycle
	Controller = cycle.Controller

	// Settings are the fixed parameters of a controller
	Settings = cycle.Settings

	// NodeSpec describes an intersection to create
	NodeSpec = cycle.NodeSpec

	// Option configures a Controller
	Option = cycle.Option

	// Phase is a step of the control cycle
	Phase = cycle.Phase

	// CycleInfo identifies one pass of the controller
	CycleInfo = cycle.CycleInfo

	// CycleReport is the result of one cycle
	CycleReport = cycle.CycleReport

	// Node is a single intersection's demand and green time
	Node = intersection.Node

	// Snapshot is a point-in-time copy of a Node
	Snapshot = intersection.Snapshot

	// DemandKind is the kind of arrival a node counts
	DemandKind = intersection.DemandKind

	// Weights score vehicles and pedestrians into a priority
	Weights = intersection.Weights

	// RankedEntry is one position in a priority ranking
	RankedEntry = ranking.Entry

	// DegeneratePolicy decides the split when every node is idle
	DegeneratePolicy = allocation.DegeneratePolicy

	// AllocationResult describes a completed allocation
	AllocationResult = allocation.Result
)

// Re-export demand types
type (
	// Source feeds arrivals into a controller during ingestion
	Source = demand.Source

	// SourceFunc adapts a function to a Source
	SourceFunc = demand.SourceFunc

	// Arrival is a single demand report
	Arrival = demand.Arrival

	// Script is a deterministic demand fixture
	Script = demand.Script

	// ScriptCycle holds the arrivals of one scripted cycle
	ScriptCycle = demand.ScriptCycle

	// Queue is a buffered arrival funnel
	Queue = demand.Queue
)

// Re-export observer types
type (
	// Observer watches the controller
	Observer = cycle.Observer

	// ExtendedObserver receives error and lifecycle notifications too
	ExtendedObserver = cycle.ExtendedObserver

	// BaseObserver provides no-op observer methods for embedding
	BaseObserver = cycle.BaseObserver

	// LoggingObserver logs cycle results
	LoggingObserver = observers.LoggingObserver

	// MetricsObserver exports Prometheus metrics
	MetricsObserver = observers.MetricsObserver

	// ValidationObserver checks allocation guarantees
	ValidationObserver = observers.ValidationObserver

	// RecordingObserver keeps recent cycle reports
	RecordingObserver = observers.RecordingObserver
)

// Re-export configuration and error types
type (
	// Config is the process configuration
	Config = config.Config

	// GreensplitError is the coded error type
	GreensplitError = utils.GreensplitError

	// ErrorCollector collects multiple errors
	ErrorCollector = utils.ErrorCollector
)

// Re-export constants
const (
	// Vehicle counts queued vehicles
	Vehicle = intersection.Vehicle

	// Pedestrian counts waiting pedestrians
	Pedestrian = intersection.Pedestrian

	// EqualSplit divides the budget equally when every node is idle
	EqualSplit = allocation.EqualSplit

	// ZeroAll gives every node zero when every node is idle
	ZeroAll = allocation.ZeroAll

	// DefaultBudget is the default green time per cycle in seconds
	DefaultBudget = cycle.DefaultBudget

	// Phases of the control cycle
	PhaseIdle       = cycle.PhaseIdle
	PhaseIngesting  = cycle.PhaseIngesting
	PhaseRanking    = cycle.PhaseRanking
	PhaseAllocating = cycle.PhaseAllocating
	PhaseObserving  = cycle.PhaseObserving
	PhaseResetting  = cycle.PhaseResetting
)

// Re-export constructors
var (
	// New creates a controller
	New = cycle.New

	// DefaultSettings returns four intersections with the default constants
	DefaultSettings = cycle.DefaultSettings

	// SequentialNodes returns node specs with ids 0..n-1
	SequentialNodes = cycle.SequentialNodes

	// WithSource sets the demand source
	WithSource = cycle.WithSource

	// WithLogger sets the controller logger
	WithLogger = cycle.WithLogger

	// WithObserver registers an observer
	WithObserver = cycle.WithObserver

	// NewNode creates a standalone intersection
	NewNode = intersection.NewNode

	// DefaultWeights returns the 0.7 vehicle and 0.3 pedestrian weights
	DefaultWeights = intersection.DefaultWeights

	// ParseDemandKind parses "vehicle" or "pedestrian"
	ParseDemandKind = intersection.ParseDemandKind

	// ParseDegeneratePolicy parses "equal-split" or "zero"
	ParseDegeneratePolicy = allocation.ParseDegeneratePolicy

	// NewRandomSource creates a uniformly random demand source
	NewRandomSource = demand.NewRandomSource

	// NewScriptedSource replays a demand script
	NewScriptedSource = demand.NewScriptedSource

	// LoadScript reads a demand script from disk
	LoadScript = demand.LoadScript

	// NewQueue creates a buffered arrival queue
	NewQueue = demand.NewQueue

	// NewLoggingObserver creates a logging observer under the greensplit logger name
	NewLoggingObserver = observers.NewDefaultLoggingObserver

	// NewMetricsObserver creates and registers a metrics observer
	NewMetricsObserver = observers.NewMetricsObserver

	// NewValidationObserver creates a validation observer
	NewValidationObserver = observers.NewValidationObserver

	// NewRecordingObserver creates a recording observer
	NewRecordingObserver = observers.NewRecordingObserver

	// DefaultConfig returns the built-in configuration
	DefaultConfig = config.Default

	// LoadConfig reads a configuration file
	LoadConfig = config.Load

	// NewLogger creates a zap-backed logr.Logger
	NewLogger = utils.NewLogger
)

// Re-export errors
var (
	ErrInvalidDemandKind     = utils.ErrInvalidDemandKind
	ErrNegativeCount         = utils.ErrNegativeCount
	ErrCounterOverflow       = utils.ErrCounterOverflow
	ErrUnknownNode           = utils.ErrUnknownNode
	ErrAllocationConsistency = utils.ErrAllocationConsistency
	ErrPriorityOverflow      = utils.ErrPriorityOverflow
	ErrInvalidBudget         = utils.ErrInvalidBudget
	ErrInvalidTransition     = utils.ErrInvalidTransition
	ErrCycleInProgress       = utils.ErrCycleInProgress
	ErrInvalidConfiguration  = utils.ErrInvalidConfiguration
)

// Rank orders nodes by descending priority, keeping input order among ties
func Rank(nodes []*Node) []RankedEntry {
	return ranking.Rank(nodes)
}

// Allocate splits budget between nodes according to ranked and writes each
// node's share
func Allocate(ranked []RankedEntry, nodes []*Node, budget float64, policy DegeneratePolicy) (AllocationResult, error) {
	return allocation.Allocate(ranked, nodes, budget, policy)
}

// Seconds converts a float number of seconds to a time.Duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
