package cycle_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/greensplit/pkg/allocation"
	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/demand"
	"github.com/anggasct/greensplit/pkg/intersection"
	"github.com/anggasct/greensplit/pkg/utils"
)

func scripted(cycles ...[]demand.Arrival) cycle.Option {
	script := &demand.Script{}
	for _, arrivals := range cycles {
		script.Cycles = append(script.Cycles, demand.ScriptCycle{Arrivals: arrivals})
	}
	return cycle.WithSource(demand.NewScriptedSource(script))
}

func TestController_EndToEnd(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, nil, cycle.WithObserver(observer), scripted(
		[]demand.Arrival{
			{Node: 0, Kind: "vehicle", Count: 10},
			{Node: 1, Kind: "pedestrian", Count: 10},
		},
	))

	report, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 10.0, report.TotalPriority, 1e-9)
	assert.False(t, report.Degenerate)
	assert.Empty(t, report.IngestErrors)
	assert.Equal(t, []int{0, 1, 2, 3}, []int{report.Ranked[0].ID, report.Ranked[1].ID, report.Ranked[2].ID, report.Ranked[3].ID})
	assert.InDeltaSlice(t, []float64{42, 18, 0, 0}, greenTimes(c), 1e-9)

	// observers see the counters of the cycle, the controller has reset them
	assert.Equal(t, 10, report.Nodes[0].Vehicles)
	assert.Equal(t, 10, report.Nodes[1].Pedestrians)
	assert.InDelta(t, 7.0, report.Nodes[0].Priority, 1e-9)
	assert.InDelta(t, 3.0, report.Nodes[1].Priority, 1e-9)
	for _, s := range c.Snapshot() {
		assert.Zero(t, s.Vehicles)
		assert.Zero(t, s.Pedestrians)
	}

	require.Len(t, observer.reports, 1)
	assert.Same(t, report, observer.reports[0])
	assert.Equal(t, cycle.PhaseIdle, c.Phase())
}

func TestController_PhaseOrder(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, nil, cycle.WithObserver(observer))

	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = c.RunCycle(context.Background())
	require.NoError(t, err)

	one := []cycle.Phase{
		cycle.PhaseIngesting, cycle.PhaseRanking, cycle.PhaseAllocating,
		cycle.PhaseObserving, cycle.PhaseResetting, cycle.PhaseIdle,
	}
	assert.Equal(t, append(append([]cycle.Phase{}, one...), one...), observer.phases)
	assert.Equal(t, uint64(1), observer.reports[0].Seq)
	assert.Equal(t, uint64(2), observer.reports[1].Seq)
	assert.NotEqual(t, observer.reports[0].ID, observer.reports[1].ID)
}

func TestController_DegenerateCycle(t *testing.T) {
	t.Run("equal split", func(t *testing.T) {
		c := newController(t, nil)

		report, err := c.RunCycle(context.Background())

		require.NoError(t, err)
		assert.True(t, report.Degenerate)
		assert.Equal(t, []float64{15, 15, 15, 15}, greenTimes(c))
	})

	t.Run("zero", func(t *testing.T) {
		c := newController(t, func(s *cycle.Settings) { s.Policy = allocation.ZeroAll })

		report, err := c.RunCycle(context.Background())

		require.NoError(t, err)
		assert.True(t, report.Degenerate)
		assert.Equal(t, []float64{0, 0, 0, 0}, greenTimes(c))
	})
}

func TestController_GreenTimeRetainedBetweenCycles(t *testing.T) {
	c := newController(t, nil, scripted(
		[]demand.Arrival{{Node: 2, Kind: "vehicle", Count: 5}},
	))

	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	// between cycles the last allocation is visible, counters are zero
	snap := c.Snapshot()[2]
	assert.InDelta(t, 60.0, snap.GreenTime, 1e-9)
	assert.Zero(t, snap.Vehicles)

	require.NoError(t, c.RecordDemand(1, intersection.Pedestrian, 4))
	_, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 60, 0, 0}, greenTimes(c), 1e-9)
}

func TestController_IngestErrorsDoNotAbortCycle(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, nil, cycle.WithObserver(observer), scripted(
		[]demand.Arrival{
			{Node: 0, Kind: "bicycle", Count: 3},
			{Node: 0, Kind: "vehicle", Count: -2},
			{Node: 42, Kind: "vehicle", Count: 1},
			{Node: 3, Kind: "vehicle", Count: 10},
		},
	))

	report, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.IngestErrors, 3)
	assert.True(t, errors.Is(report.IngestErrors[0], utils.ErrInvalidDemandKind))
	assert.True(t, errors.Is(report.IngestErrors[1], utils.ErrNegativeCount))
	assert.True(t, errors.Is(report.IngestErrors[2], utils.ErrUnknownNode))
	assert.Len(t, observer.ingestErrs, 3)

	var gerr *utils.GreensplitError
	require.True(t, errors.As(report.IngestErrors[0], &gerr))
	assert.Equal(t, "ingesting", gerr.Phase)

	assert.Equal(t, 0, report.Nodes[0].Vehicles)
	assert.Equal(t, 10, report.Nodes[3].Vehicles)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 60}, greenTimes(c), 1e-9)
}

func TestController_AllocationErrorKeepsPreviousGreenTimes(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, func(s *cycle.Settings) {
		s.Weights = intersection.Weights{Vehicle: 1e308, Pedestrian: 1}
	}, cycle.WithObserver(observer), scripted(
		[]demand.Arrival{{Node: 1, Kind: "pedestrian", Count: 6}},
		[]demand.Arrival{{Node: 0, Kind: "vehicle", Count: 10}},
	))

	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 60, 0, 0}, greenTimes(c), 1e-9)

	// 10 * 1e308 overflows to +Inf
	report, err := c.RunCycle(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrPriorityOverflow))
	assert.False(t, errors.Is(err, utils.ErrAllocationConsistency), "the node set itself is consistent")
	require.NotNil(t, report)
	assert.True(t, errors.Is(report.AllocationError, utils.ErrPriorityOverflow))
	assert.Len(t, observer.allocErrs, 1)
	assert.Len(t, observer.reports, 2, "observers still see the failed cycle")
	assert.InDeltaSlice(t, []float64{0, 60, 0, 0}, greenTimes(c), 1e-9)
	assert.Zero(t, c.Snapshot()[0].Vehicles, "counters are still reset")
	assert.Equal(t, cycle.PhaseIdle, c.Phase())
}

func TestController_RecordDemand(t *testing.T) {
	c := newController(t, nil)

	require.NoError(t, c.RecordDemand(0, intersection.Vehicle, 3))
	assert.Equal(t, 3, c.Snapshot()[0].Vehicles)

	err := c.RecordDemand(99, intersection.Vehicle, 1)
	assert.True(t, errors.Is(err, utils.ErrUnknownNode))

	err = c.RecordDemand(0, intersection.Vehicle, -1)
	assert.True(t, errors.Is(err, utils.ErrNegativeCount))
	assert.Equal(t, 3, c.Snapshot()[0].Vehicles)
}

func TestController_RecordDemandRejectsCounterOverflow(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, nil, cycle.WithObserver(observer))

	require.NoError(t, c.RecordDemand(0, intersection.Vehicle, math.MaxInt))
	err := c.RecordDemand(0, intersection.Vehicle, 1)

	assert.True(t, errors.Is(err, utils.ErrCounterOverflow))
	assert.Equal(t, math.MaxInt, c.Snapshot()[0].Vehicles)

	report, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, math.MaxInt, report.Nodes[0].Vehicles)
	assert.InDelta(t, 60.0, greenTimes(c)[0], 1e-9)
	assert.Zero(t, c.Snapshot()[0].Vehicles)
}

func TestController_ConcurrentIngestionLosesNothing(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, nil, cycle.WithObserver(observer))

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, c.RecordDemand(id%4, intersection.Vehicle, 1))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	cycles := 0
loop:
	for {
		select {
		case <-done:
			break loop
		default:
			_, err := c.RunCycle(context.Background())
			require.NoError(t, err)
			cycles++
		}
	}
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	total := 0
	for _, r := range observer.reports {
		for _, n := range r.Nodes {
			total += n.Vehicles
		}
		if !r.Degenerate {
			sum := 0.0
			for _, n := range r.Nodes {
				sum += n.GreenTime
			}
			assert.InEpsilon(t, 60.0, sum, 1e-9)
		}
	}
	assert.Equal(t, producers*perProducer, total)
	assert.Equal(t, cycles+1, len(observer.reports))
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) Collect(context.Context, []int, demand.Ingestor) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestController_CyclesDoNotOverlap(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	c := newController(t, nil, cycle.WithSource(src))

	errCh := make(chan error, 1)
	go func() {
		_, err := c.RunCycle(context.Background())
		errCh <- err
	}()
	<-src.entered

	assert.Equal(t, cycle.PhaseIngesting, c.Phase())
	_, err := c.RunCycle(context.Background())
	assert.True(t, errors.Is(err, utils.ErrCycleInProgress))

	close(src.release)
	require.NoError(t, <-errCh)
}

func TestController_SourceFailureIsReported(t *testing.T) {
	boom := errors.New("feed offline")
	c := newController(t, nil, cycle.WithSource(demand.SourceFunc(
		func(_ context.Context, ids []int, ing demand.Ingestor) error {
			_ = ing.RecordDemand(ids[0], intersection.Vehicle, 2)
			return boom
		})))

	report, err := c.RunCycle(context.Background())

	require.NoError(t, err)
	require.Len(t, report.IngestErrors, 1)
	assert.ErrorIs(t, report.IngestErrors[0], boom)
	assert.InDelta(t, 60.0, greenTimes(c)[0], 1e-9)
}

func TestController_PanickingObserverIsIsolated(t *testing.T) {
	bad := newTestObserver()
	bad.panicOnEach = true
	good := newTestObserver()
	c := newController(t, nil, cycle.WithObserver(bad), cycle.WithObserver(good))

	_, err := c.RunCycle(context.Background())

	require.NoError(t, err)
	assert.Len(t, good.reports, 1)
	assert.Len(t, good.phases, 6)
}

func TestController_RemoveObserver(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, nil)
	c.AddObserver(observer)

	_, _ = c.RunCycle(context.Background())
	c.RemoveObserver(observer)
	_, _ = c.RunCycle(context.Background())

	assert.Len(t, observer.reports, 1)
}

func TestController_Run(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, func(s *cycle.Settings) { s.Interval = 5 * time.Millisecond },
		cycle.WithObserver(observer), cycle.WithSource(demand.NewRandomSource(20, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return observer.reportCount() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	observer.mutex.RLock()
	defer observer.mutex.RUnlock()
	assert.Equal(t, 1, observer.started)
	assert.Equal(t, 1, observer.stopped)
	assert.Equal(t, cycle.PhaseIdle, c.Phase())
	for _, r := range observer.reports {
		assert.Empty(t, r.IngestErrors)
	}
}

func TestController_RunAlongsideManualCycles(t *testing.T) {
	observer := newTestObserver()
	logger := funcr.New(func(prefix, args string) {}, funcr.Options{Verbosity: utils.TRACE})
	c := newController(t, func(s *cycle.Settings) { s.Interval = time.Millisecond },
		cycle.WithObserver(observer), cycle.WithLogger(logger))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, err := c.RunCycle(context.Background())
			if err != nil && !errors.Is(err, utils.ErrCycleInProgress) {
				t.Errorf("manual cycle: %v", err)
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return observer.reportCount() >= 10 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	close(stop)
	wg.Wait()

	observer.mutex.RLock()
	defer observer.mutex.RUnlock()
	seen := make(map[uint64]bool, len(observer.reports))
	for _, r := range observer.reports {
		assert.False(t, seen[r.Seq], "sequence %d reused", r.Seq)
		seen[r.Seq] = true
	}
}

func TestController_RunWithCancelledContext(t *testing.T) {
	observer := newTestObserver()
	c := newController(t, nil, cycle.WithObserver(observer))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, observer.reports)
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, cycle.DefaultSettings().Validate())

	s := cycle.DefaultSettings()
	s.Budget = 0
	s.Interval = 0
	s.Policy = "lottery"
	s.Weights.Pedestrian = -1
	s.Nodes = []cycle.NodeSpec{{ID: 1}, {ID: 1}}

	err := s.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidConfiguration))
	for _, field := range []string{"max_green_time", "cycle_interval", "degenerate_policy", "pedestrian_weight", "duplicate intersection id 1"} {
		assert.Contains(t, err.Error(), field)
	}

	_, err = cycle.New(s)
	assert.Error(t, err)
}

func TestController_Accessors(t *testing.T) {
	c := newController(t, func(s *cycle.Settings) {
		s.Nodes = []cycle.NodeSpec{{ID: 7, Name: "North"}, {ID: 3, Name: "South"}}
	})

	assert.Equal(t, []int{7, 3}, c.Nodes())
	assert.Equal(t, "North", c.Snapshot()[0].Name)
	assert.Equal(t, 60.0, c.Settings().Budget)
	assert.Equal(t, cycle.PhaseIdle, c.Phase())
}

func TestTransitions(t *testing.T) {
	ts := cycle.Transitions()
	require.Len(t, ts, len(cycle.Phases()))

	for i, tr := range ts {
		assert.Equal(t, cycle.Phases()[i], tr.From)
		assert.Equal(t, cycle.Phases()[(i+1)%len(ts)], tr.To)
		assert.NotEmpty(t, tr.Event)
	}
	assert.Equal(t, "allocating", cycle.PhaseAllocating.String())
	assert.Equal(t, "unknown", cycle.Phase(99).String())
}
