// Package demand supplies arrivals to the cycle controller. A Source stands in
// for a sensor feed; the controller hands it an Ingestor during the ingesting
// phase of every cycle.
package demand

import (
	"context"

	"github.com/anggasct/greensplit/pkg/intersection"
)

// Ingestor accepts arrivals for a node. It is the sole input boundary of the
// controller; implementations must be safe for concurrent use.
type Ingestor interface {
	RecordDemand(id int, kind intersection.DemandKind, count int) error
}

// Source produces the arrivals of one cycle for the given node identities.
// A rejected RecordDemand call must not stop the source from feeding the
// remaining nodes; the ingestor keeps track of rejections. The returned error
// is reserved for failures of the source itself.
type Source interface {
	Collect(ctx context.Context, ids []int, ing Ingestor) error
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context, ids []int, ing Ingestor) error

// Collect calls f
func (f SourceFunc) Collect(ctx context.Context, ids []int, ing Ingestor) error {
	return f(ctx, ids, ing)
}

// Arrival is a single demand report
type Arrival struct {
	Node  int    `json:"node"`
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// record forwards a to ing. Unparseable kinds are passed through verbatim so
// the ingestor rejects them at the boundary.
func (a Arrival) record(ing Ingestor) error {
	kind, err := intersection.ParseDemandKind(a.Kind)
	if err != nil {
		kind = intersection.DemandKind(a.Kind)
	}
	return ing.RecordDemand(a.Node, kind, a.Count)
}

// None is a source that never reports demand
var None Source = SourceFunc(func(context.Context, []int, Ingestor) error { return nil })
