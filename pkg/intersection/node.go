// Package intersection models a single signalised intersection: its demand
// counters for the current cycle, its weighted priority and the green time
// most recently assigned to it.
package intersection

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/anggasct/greensplit/pkg/utils"
)

// DemandKind names a category of arrivals
type DemandKind string

const (
	// Vehicle arrivals
	Vehicle DemandKind = "vehicle"
	// Pedestrian arrivals
	Pedestrian DemandKind = "pedestrian"
)

// DemandKinds lists the recognized categories in a stable order
var DemandKinds = []DemandKind{Vehicle, Pedestrian}

// Valid reports whether k is a recognized demand category
func (k DemandKind) Valid() bool {
	return k == Vehicle || k == Pedestrian
}

// ParseDemandKind converts a feed-supplied string into a DemandKind.
// Matching ignores case and surrounding whitespace.
func ParseDemandKind(s string) (DemandKind, error) {
	k := DemandKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", utils.ErrInvalidDemandKind.WithDetail("kind", s)
	}
	return k, nil
}

// Weights are the coefficients applied to each demand category when
// computing a priority. They need not sum to one.
type Weights struct {
	Vehicle    float64 `json:"vehicle"`
	Pedestrian float64 `json:"pedestrian"`
}

// DefaultWeights favour vehicles 70/30
func DefaultWeights() Weights {
	return Weights{Vehicle: 0.7, Pedestrian: 0.3}
}

// Validate checks that both weights are finite and non-negative
func (w Weights) Validate() error {
	checks := []struct {
		field string
		value float64
	}{
		{"vehicle_weight", w.Vehicle},
		{"pedestrian_weight", w.Pedestrian},
	}
	for _, c := range checks {
		if c.value < 0 || math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return utils.NewConfigurationError(c.field,
				fmt.Sprintf("weight must be a finite non-negative number, got %v", c.value))
		}
	}
	return nil
}

// Score applies the weights to a pair of counters
func (w Weights) Score(vehicles, pedestrians int) float64 {
	return float64(vehicles)*w.Vehicle + float64(pedestrians)*w.Pedestrian
}

// Snapshot is a read-only copy of a node's observable state
type Snapshot struct {
	ID          int     `json:"id"`
	Name        string  `json:"name,omitempty"`
	Vehicles    int     `json:"vehicles"`
	Pedestrians int     `json:"pedestrians"`
	Priority    float64 `json:"priority"`
	GreenTime   float64 `json:"greenTime"`
}

// Node is one intersection. Its identity is fixed at creation; its counters
// accumulate during ingestion and its green time is written by the allocator.
// All methods are safe for concurrent use.
type Node struct {
	id      int
	name    string
	weights Weights

	mutex       sync.RWMutex
	vehicles    int
	pedestrians int
	greenTime   float64
}

// NewNode creates an idle node
func NewNode(id int, weights Weights) *Node {
	return &Node{
		id:      id,
		weights: weights,
	}
}

// WithName sets a display name and returns the node
func (n *Node) WithName(name string) *Node {
	n.name = name
	return n
}

// ID returns the immutable identifier
func (n *Node) ID() int {
	return n.id
}

// Name returns the display name, which may be empty
func (n *Node) Name() string {
	return n.name
}

// RecordDemand adds count arrivals of the given kind. On error the counters
// are left untouched.
func (n *Node) RecordDemand(kind DemandKind, count int) error {
	if count < 0 {
		return utils.ErrNegativeCount.WithNode(n.id).WithDetail("count", count)
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()

	var counter *int
	switch kind {
	case Vehicle:
		counter = &n.vehicles
	case Pedestrian:
		counter = &n.pedestrians
	default:
		return utils.ErrInvalidDemandKind.WithNode(n.id).WithDetail("kind", string(kind))
	}
	if count > math.MaxInt-*counter {
		return utils.ErrCounterOverflow.WithNode(n.id).
			WithDetail("kind", string(kind)).
			WithDetail("current", *counter).
			WithDetail("count", count)
	}
	*counter += count
	return nil
}

// Priority returns the weighted demand accumulated so far
func (n *Node) Priority() float64 {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.weights.Score(n.vehicles, n.pedestrians)
}

// VehicleQueue returns the vehicle counter
func (n *Node) VehicleQueue() int {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.vehicles
}

// PedestrianQueue returns the pedestrian counter
func (n *Node) PedestrianQueue() int {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.pedestrians
}

// SetAllocatedTime stores the node's share of the budget. Range checking is
// the allocator's job.
func (n *Node) SetAllocatedTime(value float64) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.greenTime = value
}

// GreenTime returns the last allocated share
func (n *Node) GreenTime() float64 {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.greenTime
}

// ResetDemand zeroes both counters. Green time is kept.
func (n *Node) ResetDemand() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.vehicles = 0
	n.pedestrians = 0
}

// Snapshot returns a consistent copy of the node's state
func (n *Node) Snapshot() Snapshot {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return Snapshot{
		ID:          n.id,
		Name:        n.name,
		Vehicles:    n.vehicles,
		Pedestrians: n.pedestrians,
		Priority:    n.weights.Score(n.vehicles, n.pedestrians),
		GreenTime:   n.greenTime,
	}
}

// String renders the node the way the status log prints it
func (n *Node) String() string {
	s := n.Snapshot()
	return fmt.Sprintf("|ID: %d|Vehicles: %d|Pedestrians: %d|Priority: %g|Green: %.2f",
		s.ID, s.Vehicles, s.Pedestrians, s.Priority, s.GreenTime)
}
