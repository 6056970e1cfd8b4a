package cycle_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anggasct/greensplit/pkg/cycle"
)

// testObserver captures every notification
type testObserver struct {
	mutex       sync.RWMutex
	phases      []cycle.Phase
	reports     []*cycle.CycleReport
	ingestErrs  []error
	allocErrs   []error
	started     int
	stopped     int
	panicOnEach bool
}

func newTestObserver() *testObserver {
	return &testObserver{}
}

func (o *testObserver) OnPhaseEnter(_ cycle.CycleInfo, phase cycle.Phase) {
	o.mutex.Lock()
	o.phases = append(o.phases, phase)
	o.mutex.Unlock()
	if o.panicOnEach {
		panic("observer failure")
	}
}

func (o *testObserver) OnCycleComplete(report *cycle.CycleReport) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.reports = append(o.reports, report)
}

func (o *testObserver) OnIngestError(_ cycle.CycleInfo, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.ingestErrs = append(o.ingestErrs, err)
}

func (o *testObserver) OnAllocationError(_ cycle.CycleInfo, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.allocErrs = append(o.allocErrs, err)
}

func (o *testObserver) OnControllerStarted() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.started++
}

func (o *testObserver) OnControllerStopped() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.stopped++
}

func (o *testObserver) reportCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.reports)
}

func newController(t *testing.T, mutate func(*cycle.Settings), opts ...cycle.Option) *cycle.Controller {
	t.Helper()
	settings := cycle.DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}
	c, err := cycle.New(settings, opts...)
	require.NoError(t, err)
	return c
}

func greenTimes(c *cycle.Controller) []float64 {
	snaps := c.Snapshot()
	out := make([]float64, len(snaps))
	for i, s := range snaps {
		out[i] = s.GreenTime
	}
	return out
}
