package observers

import (
	"sync"

	"github.com/anggasct/greensplit/pkg/cycle"
)

// DefaultHistorySize is the number of reports kept by a RecordingObserver
const DefaultHistorySize = 128

// RecordingObserver keeps the most recent cycle reports in memory
type RecordingObserver struct {
	cycle.BaseObserver

	mutex   sync.RWMutex
	limit   int
	reports []*cycle.CycleReport
}

// NewRecordingObserver creates a recording observer keeping at most limit
// reports. A non-positive limit uses DefaultHistorySize.
func NewRecordingObserver(limit int) *RecordingObserver {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &RecordingObserver{limit: limit}
}

// OnCycleComplete stores the report, dropping the oldest when full
func (o *RecordingObserver) OnCycleComplete(report *cycle.CycleReport) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.reports = append(o.reports, report)
	if len(o.reports) > o.limit {
		o.reports = o.reports[len(o.reports)-o.limit:]
	}
}

// Reports returns the recorded reports, oldest first
func (o *RecordingObserver) Reports() []*cycle.CycleReport {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make([]*cycle.CycleReport, len(o.reports))
	copy(result, o.reports)
	return result
}

// Last returns the most recent report, or nil
func (o *RecordingObserver) Last() *cycle.CycleReport {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	if len(o.reports) == 0 {
		return nil
	}
	return o.reports[len(o.reports)-1]
}

// GreenTimeHistory returns the green time of a node across recorded cycles
func (o *RecordingObserver) GreenTimeHistory(id int) []float64 {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	history := make([]float64, 0, len(o.reports))
	for _, r := range o.reports {
		for _, n := range r.Nodes {
			if n.ID == id {
				history = append(history, n.GreenTime)
				break
			}
		}
	}
	return history
}

// Reset drops all recorded reports
func (o *RecordingObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.reports = nil
}
