// Package cycle drives the adaptive allocation loop. A Controller owns the
// intersections for the lifetime of the process and repeatedly walks them
// through idle, ingesting, ranking, allocating, observing and resetting.
package cycle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/anggasct/greensplit/pkg/allocation"
	"github.com/anggasct/greensplit/pkg/demand"
	"github.com/anggasct/greensplit/pkg/intersection"
	"github.com/anggasct/greensplit/pkg/ranking"
	"github.com/anggasct/greensplit/pkg/utils"
)

const (
	// DefaultBudget is the green time shared by all nodes each cycle, in seconds
	DefaultBudget = 60.0
	// DefaultInterval separates the start of consecutive cycles
	DefaultInterval = time.Second
)

// NodeSpec describes a node to create
type NodeSpec struct {
	ID   int
	Name string
}

// Settings are fixed for the lifetime of a controller
type Settings struct {
	Budget   float64
	Weights  intersection.Weights
	Policy   allocation.DegeneratePolicy
	Interval time.Duration
	Nodes    []NodeSpec
}

// DefaultSettings returns four nodes with ids 0..3 and the default constants
func DefaultSettings() Settings {
	return Settings{
		Budget:   DefaultBudget,
		Weights:  intersection.DefaultWeights(),
		Policy:   allocation.EqualSplit,
		Interval: DefaultInterval,
		Nodes:    SequentialNodes(4),
	}
}

// SequentialNodes returns specs with ids 0..n-1
func SequentialNodes(n int) []NodeSpec {
	specs := make([]NodeSpec, n)
	for i := range specs {
		specs[i] = NodeSpec{ID: i}
	}
	return specs
}

// Validate checks the settings
func (s Settings) Validate() error {
	collector := utils.NewErrorCollector()

	if s.Budget <= 0 || math.IsNaN(s.Budget) || math.IsInf(s.Budget, 0) {
		collector.Add(utils.NewConfigurationError("max_green_time",
			fmt.Sprintf("must be a positive finite number, got %v", s.Budget)))
	}
	collector.Add(s.Weights.Validate())
	if _, err := allocation.ParseDegeneratePolicy(string(s.Policy)); err != nil {
		collector.Add(err)
	}
	if s.Interval <= 0 {
		collector.Add(utils.NewConfigurationError("cycle_interval",
			fmt.Sprintf("must be positive, got %v", s.Interval)))
	}

	seen := make(map[int]struct{}, len(s.Nodes))
	for _, spec := range s.Nodes {
		if _, dup := seen[spec.ID]; dup {
			collector.Add(utils.NewConfigurationError("intersections",
				fmt.Sprintf("duplicate intersection id %d", spec.ID)))
		}
		seen[spec.ID] = struct{}{}
	}

	return collector.Err()
}

// Option configures a Controller
type Option func(*Controller)

// WithSource sets the demand source polled during ingestion
func WithSource(source demand.Source) Option {
	return func(c *Controller) {
		if source != nil {
			c.source = source
		}
	}
}

// WithLogger sets the controller's logger
func WithLogger(logger logr.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver registers an observer at construction
func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		c.observers.add(observer)
	}
}

// Controller owns the node collection and runs cycles over it
type Controller struct {
	settings Settings
	nodes    []*intersection.Node
	byID     map[int]*intersection.Node
	ids      []int

	source    demand.Source
	logger    logr.Logger
	observers observerManager
	machine   phaseMachine

	// gate is held shared by RecordDemand and exclusively from ranking
	// through resetting, so counters cannot move under an allocation
	gate sync.RWMutex
	// running makes cycles non re-entrant
	running sync.Mutex
	// seq is written inside running but read by Run after the loop
	seq atomic.Uint64
}

// New validates settings and creates the nodes
func New(settings Settings, opts ...Option) (*Controller, error) {
	if settings.Policy == "" {
		settings.Policy = allocation.EqualSplit
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		settings: settings,
		nodes:    make([]*intersection.Node, 0, len(settings.Nodes)),
		byID:     make(map[int]*intersection.Node, len(settings.Nodes)),
		ids:      make([]int, 0, len(settings.Nodes)),
		source:   demand.None,
		logger:   logr.Discard(),
	}
	for _, spec := range settings.Nodes {
		n := intersection.NewNode(spec.ID, settings.Weights).WithName(spec.Name)
		c.nodes = append(c.nodes, n)
		c.byID[spec.ID] = n
		c.ids = append(c.ids, spec.ID)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Settings returns the settings the controller was built with
func (c *Controller) Settings() Settings {
	return c.settings
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	return c.machine.phase()
}

// Nodes returns the tracked identities in creation order
func (c *Controller) Nodes() []int {
	out := make([]int, len(c.ids))
	copy(out, c.ids)
	return out
}

// AddObserver registers an observer
func (c *Controller) AddObserver(observer Observer) {
	c.observers.add(observer)
}

// RemoveObserver unregisters an observer
func (c *Controller) RemoveObserver(observer Observer) {
	c.observers.remove(observer)
}

// RecordDemand is the ingestion boundary. It may be called from any
// goroutine; calls block while a cycle is ranking, allocating or resetting.
func (c *Controller) RecordDemand(id int, kind intersection.DemandKind, count int) error {
	n, ok := c.byID[id]
	if !ok {
		return utils.ErrUnknownNode.WithNode(id)
	}

	c.gate.RLock()
	defer c.gate.RUnlock()
	return n.RecordDemand(kind, count)
}

// Snapshot returns the observable state of every node in creation order
func (c *Controller) Snapshot() []intersection.Snapshot {
	snaps := make([]intersection.Snapshot, len(c.nodes))
	for i, n := range c.nodes {
		snaps[i] = n.Snapshot()
	}
	return snaps
}

// RunCycle performs one full pass. Ingestion errors are reported in the
// returned report and never abort the cycle. An allocation error leaves the
// previous green times in effect and is returned after observers and the
// reset have run.
func (c *Controller) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !c.running.TryLock() {
		return nil, utils.ErrCycleInProgress
	}
	defer c.running.Unlock()

	info := CycleInfo{ID: uuid.New(), Seq: c.seq.Add(1), Started: time.Now()}
	report := &CycleReport{
		CycleInfo: info,
		Budget:    c.settings.Budget,
		Policy:    c.settings.Policy,
	}
	logger := c.logger.WithValues("cycle", info.Seq, "cycleID", info.ID.String())

	if err := c.enter(info, PhaseIngesting); err != nil {
		return nil, err
	}
	report.IngestErrors = c.ingest(ctx, info, logger)

	c.gate.Lock()
	locked := true
	defer func() {
		if locked {
			c.gate.Unlock()
		}
	}()

	if err := c.enter(info, PhaseRanking); err != nil {
		return nil, err
	}
	report.Ranked = ranking.RankSnapshots(c.Snapshot())

	if err := c.enter(info, PhaseAllocating); err != nil {
		return nil, err
	}
	result, allocErr := allocation.Allocate(report.Ranked, c.nodes, c.settings.Budget, c.settings.Policy)
	if allocErr != nil {
		report.AllocationError = allocErr
		logger.Error(allocErr, "Allocation aborted, previous green times remain in effect")
		c.observers.notifyAllocationError(info, allocErr)
	} else {
		report.TotalPriority = result.TotalPriority
		report.Degenerate = result.Degenerate
		if result.Degenerate {
			logger.V(utils.VERBOSE).Info("All intersections idle, applied degenerate policy", "policy", result.Policy)
		}
	}

	if err := c.enter(info, PhaseObserving); err != nil {
		return nil, err
	}
	report.Nodes = c.Snapshot()
	report.Duration = time.Since(info.Started)
	c.observers.notifyCycleComplete(report)

	if err := c.enter(info, PhaseResetting); err != nil {
		return nil, err
	}
	for _, n := range c.nodes {
		n.ResetDemand()
	}
	c.gate.Unlock()
	locked = false

	if err := c.enter(info, PhaseIdle); err != nil {
		return nil, err
	}
	logger.V(utils.DEBUG).Info("Cycle complete", "duration", report.Duration, "totalPriority", report.TotalPriority)

	if allocErr != nil {
		return report, fmt.Errorf("cycle %d: %w", info.Seq, allocErr)
	}
	return report, nil
}

// Run repeats RunCycle every interval until ctx is cancelled. A cycle in
// progress when ctx is cancelled runs to completion first.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Controller started", "nodes", len(c.nodes), "interval", c.settings.Interval,
		"budget", c.settings.Budget, "policy", c.settings.Policy)
	c.observers.notifyStarted()
	defer func() {
		c.observers.notifyStopped()
		c.logger.Info("Controller stopped", "cycles", c.seq.Load())
	}()

	ticker := time.NewTicker(c.settings.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := c.RunCycle(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error(err, "Cycle failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Controller) enter(info CycleInfo, phase Phase) error {
	if _, err := c.machine.advance(phase); err != nil {
		c.machine.abort()
		return err
	}
	c.observers.notifyPhaseEnter(info, phase)
	return nil
}

func (c *Controller) ingest(ctx context.Context, info CycleInfo, logger logr.Logger) []error {
	collector := utils.NewErrorCollector()
	ing := &cycleIngestor{controller: c, info: info, errs: collector}

	if err := c.source.Collect(ctx, c.Nodes(), ing); err != nil {
		logger.Error(err, "Demand source failed, continuing with the demand collected so far")
		collector.Add(err)
	}

	errs := collector.GetErrors()
	if len(errs) > 0 {
		logger.V(utils.VERBOSE).Info("Rejected arrivals", "count", len(errs))
	}
	return errs
}

// cycleIngestor forwards a source's arrivals to the controller and keeps the
// rejections of the current cycle
type cycleIngestor struct {
	controller *Controller
	info       CycleInfo
	errs       *utils.ErrorCollector
}

func (ci *cycleIngestor) RecordDemand(id int, kind intersection.DemandKind, count int) error {
	err := ci.controller.RecordDemand(id, kind, count)
	if err != nil {
		wrapped := err
		if gerr, ok := err.(*utils.GreensplitError); ok {
			wrapped = gerr.WithPhase(PhaseIngesting.String())
		}
		ci.errs.Add(wrapped)
		ci.controller.observers.notifyIngestError(ci.info, wrapped)
	}
	return err
}
