package cycle

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anggasct/greensplit/pkg/allocation"
	"github.com/anggasct/greensplit/pkg/intersection"
	"github.com/anggasct/greensplit/pkg/ranking"
)

// CycleInfo identifies one pass of the controller
type CycleInfo struct {
	ID      uuid.UUID
	Seq     uint64
	Started time.Time
}

// CycleReport is the read-only result of one cycle handed to observers
type CycleReport struct {
	CycleInfo

	// Ranked is the ordering used for this cycle's allocation
	Ranked []ranking.Entry
	// Nodes holds every node as observed: counters accumulated this cycle
	// and the green time now in effect
	Nodes []intersection.Snapshot

	Budget        float64
	TotalPriority float64
	Degenerate    bool
	Policy        allocation.DegeneratePolicy

	// IngestErrors are the rejected RecordDemand calls of this cycle
	IngestErrors []error
	// AllocationError is set when allocation was aborted; Nodes then carry the
	// previous green times
	AllocationError error

	Duration time.Duration
}

// Observer watches the controller
type Observer interface {
	// OnPhaseEnter is called after the controller moves to a new phase
	OnPhaseEnter(info CycleInfo, phase Phase)

	// OnCycleComplete is called during the observing phase
	OnCycleComplete(report *CycleReport)
}

// ExtendedObserver provides additional optional observation methods
type ExtendedObserver interface {
	Observer

	// OnIngestError is called for every rejected arrival
	OnIngestError(info CycleInfo, err error)

	// OnAllocationError is called when a cycle's allocation is aborted
	OnAllocationError(info CycleInfo, err error)

	// OnControllerStarted is called when Run begins
	OnControllerStarted()

	// OnControllerStopped is called when Run returns
	OnControllerStopped()
}

// BaseObserver provides a default implementation with no-op methods
type BaseObserver struct{}

// OnPhaseEnter implements Observer
func (o *BaseObserver) OnPhaseEnter(info CycleInfo, phase Phase) {}

// OnCycleComplete implements Observer
func (o *BaseObserver) OnCycleComplete(report *CycleReport) {}

// OnIngestError implements ExtendedObserver
func (o *BaseObserver) OnIngestError(info CycleInfo, err error) {}

// OnAllocationError implements ExtendedObserver
func (o *BaseObserver) OnAllocationError(info CycleInfo, err error) {}

// OnControllerStarted implements ExtendedObserver
func (o *BaseObserver) OnControllerStarted() {}

// OnControllerStopped implements ExtendedObserver
func (o *BaseObserver) OnControllerStopped() {}

// observerManager fans notifications out to registered observers. A
// panicking observer is skipped so it cannot abort a cycle.
type observerManager struct {
	mutex     sync.RWMutex
	observers []Observer
}

func (om *observerManager) add(observer Observer) {
	om.mutex.Lock()
	defer om.mutex.Unlock()
	om.observers = append(om.observers, observer)
}

func (om *observerManager) remove(observer Observer) {
	om.mutex.Lock()
	defer om.mutex.Unlock()
	for i, obs := range om.observers {
		if obs == observer {
			om.observers = append(om.observers[:i], om.observers[i+1:]...)
			break
		}
	}
}

func (om *observerManager) each(fn func(Observer)) {
	om.mutex.RLock()
	observers := make([]Observer, len(om.observers))
	copy(observers, om.observers)
	om.mutex.RUnlock()

	for _, obs := range observers {
		func() {
			defer func() {
				_ = recover()
			}()
			fn(obs)
		}()
	}
}

func (om *observerManager) eachExtended(fn func(ExtendedObserver)) {
	om.each(func(obs Observer) {
		if ext, ok := obs.(ExtendedObserver); ok {
			fn(ext)
		}
	})
}

func (om *observerManager) notifyPhaseEnter(info CycleInfo, phase Phase) {
	om.each(func(obs Observer) { obs.OnPhaseEnter(info, phase) })
}

func (om *observerManager) notifyCycleComplete(report *CycleReport) {
	om.each(func(obs Observer) { obs.OnCycleComplete(report) })
}

func (om *observerManager) notifyIngestError(info CycleInfo, err error) {
	om.eachExtended(func(obs ExtendedObserver) { obs.OnIngestError(info, err) })
}

func (om *observerManager) notifyAllocationError(info CycleInfo, err error) {
	om.eachExtended(func(obs ExtendedObserver) { obs.OnAllocationError(info, err) })
}

func (om *observerManager) notifyStarted() {
	om.eachExtended(func(obs ExtendedObserver) { obs.OnControllerStarted() })
}

func (om *observerManager) notifyStopped() {
	om.eachExtended(func(obs ExtendedObserver) { obs.OnControllerStopped() })
}
