// Package builders provides fluent builders for constructing controllers
package builders

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/anggasct/greensplit/pkg/allocation"
	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/demand"
	"github.com/anggasct/greensplit/pkg/intersection"
)

// ControllerBuilder provides a fluent interface for building controllers
type ControllerBuilder struct {
	settings cycle.Settings
	opts     []cycle.Option
	explicit bool
}

// IntersectionBuilder provides a fluent interface for configuring one intersection
type IntersectionBuilder struct {
	builder *ControllerBuilder
	index   int
}

// NewControllerBuilder creates a builder starting from the default settings.
// The default four intersections are replaced as soon as one is added explicitly.
func NewControllerBuilder() *ControllerBuilder {
	return &ControllerBuilder{settings: cycle.DefaultSettings()}
}

// WithBudget sets the green time shared each cycle
func (b *ControllerBuilder) WithBudget(seconds float64) *ControllerBuilder {
	b.settings.Budget = seconds
	return b
}

// WithWeights sets the vehicle and pedestrian weights
func (b *ControllerBuilder) WithWeights(vehicle, pedestrian float64) *ControllerBuilder {
	b.settings.Weights = intersection.Weights{Vehicle: vehicle, Pedestrian: pedestrian}
	return b
}

// WithPolicy sets the degenerate policy
func (b *ControllerBuilder) WithPolicy(policy allocation.DegeneratePolicy) *ControllerBuilder {
	b.settings.Policy = policy
	return b
}

// WithInterval sets the time between cycles
func (b *ControllerBuilder) WithInterval(interval time.Duration) *ControllerBuilder {
	b.settings.Interval = interval
	return b
}

// WithIntersections replaces the intersections with ids 0..n-1
func (b *ControllerBuilder) WithIntersections(n int) *ControllerBuilder {
	b.settings.Nodes = cycle.SequentialNodes(n)
	b.explicit = true
	return b
}

// AddIntersection adds an intersection and returns a builder for it
func (b *ControllerBuilder) AddIntersection(id int) *IntersectionBuilder {
	if !b.explicit {
		b.settings.Nodes = nil
		b.explicit = true
	}
	b.settings.Nodes = append(b.settings.Nodes, cycle.NodeSpec{ID: id})
	return &IntersectionBuilder{builder: b, index: len(b.settings.Nodes) - 1}
}

// WithSource sets the demand source
func (b *ControllerBuilder) WithSource(source demand.Source) *ControllerBuilder {
	b.opts = append(b.opts, cycle.WithSource(source))
	return b
}

// WithLogger sets the controller logger
func (b *ControllerBuilder) WithLogger(logger logr.Logger) *ControllerBuilder {
	b.opts = append(b.opts, cycle.WithLogger(logger))
	return b
}

// WithObserver registers an observer
func (b *ControllerBuilder) WithObserver(observer cycle.Observer) *ControllerBuilder {
	b.opts = append(b.opts, cycle.WithObserver(observer))
	return b
}

// Settings returns the settings built so far
func (b *ControllerBuilder) Settings() cycle.Settings {
	s := b.settings
	s.Nodes = append([]cycle.NodeSpec(nil), b.settings.Nodes...)
	return s
}

// Build validates the settings and creates the controller
func (b *ControllerBuilder) Build() (*cycle.Controller, error) {
	return cycle.New(b.Settings(), b.opts...)
}

// Named sets the display name of the intersection
func (ib *IntersectionBuilder) Named(name string) *IntersectionBuilder {
	ib.builder.settings.Nodes[ib.index].Name = name
	return ib
}

// AddIntersection adds another intersection
func (ib *IntersectionBuilder) AddIntersection(id int) *IntersectionBuilder {
	return ib.builder.AddIntersection(id)
}

// Done returns to the controller builder
func (ib *IntersectionBuilder) Done() *ControllerBuilder {
	return ib.builder
}

// Build creates the controller
func (ib *IntersectionBuilder) Build() (*cycle.Controller, error) {
	return ib.builder.Build()
}
