package demand

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/anggasct/greensplit/pkg/intersection"
)

const (
	// DefaultMaxArrivals is the upper bound of a random arrival count
	DefaultMaxArrivals = 20
	// MaxArrivalsLimit caps the configurable upper bound
	MaxArrivalsLimit = 1_000_000
)

// RandomSource reports a uniformly distributed number of vehicles and
// pedestrians in [0, MaxArrivals] for every node, every cycle.
type RandomSource struct {
	maxArrivals int

	mutex sync.Mutex
	rng   *rand.Rand
}

// NewRandomSource creates a random source. maxArrivals is clamped to
// [0, MaxArrivalsLimit]. A zero seed picks one from the clock.
func NewRandomSource(maxArrivals int, seed int64) *RandomSource {
	maxArrivals = min(max(maxArrivals, 0), MaxArrivalsLimit)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSource{
		maxArrivals: maxArrivals,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// MaxArrivals returns the effective upper bound of an arrival count
func (s *RandomSource) MaxArrivals() int {
	return s.maxArrivals
}

// Collect implements Source
func (s *RandomSource) Collect(ctx context.Context, ids []int, ing Ingestor) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, kind := range intersection.DemandKinds {
			_ = ing.RecordDemand(id, kind, s.rng.Intn(s.maxArrivals+1))
		}
	}
	return nil
}
