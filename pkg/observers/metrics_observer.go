package observers

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/utils"
)

const metricsSubsystem = "greensplit"

// MetricsObserver exports cycle results as Prometheus metrics
type MetricsObserver struct {
	cycle.BaseObserver

	greenTime        *prometheus.GaugeVec
	priority         *prometheus.GaugeVec
	queueLength      *prometheus.GaugeVec
	phase            prometheus.Gauge
	cycles           prometheus.Counter
	degenerateCycles prometheus.Counter
	ingestErrors     *prometheus.CounterVec
	allocationErrors prometheus.Counter
	cycleDuration    prometheus.Histogram

	mutex        sync.RWMutex
	phaseVisits  map[string]int
	errorCount   int
	lastReported uint64
}

// NewMetricsObserver creates the collectors and registers them on reg
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	o := &MetricsObserver{
		greenTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "green_time_seconds",
			Help:      "Green time allocated to each intersection for the current cycle.",
		}, []string{"intersection"}),
		priority: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "priority",
			Help:      "Weighted demand of each intersection in the last cycle.",
		}, []string{"intersection"}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "queue_length",
			Help:      "Arrivals accumulated by each intersection in the last cycle, by demand kind.",
		}, []string{"intersection", "kind"}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: metricsSubsystem,
			Name:      "phase",
			Help:      "Current phase of the control cycle (0 idle .. 5 resetting).",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "cycles_total",
			Help:      "Completed control cycles.",
		}),
		degenerateCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "degenerate_cycles_total",
			Help:      "Cycles in which every intersection was idle.",
		}),
		ingestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "ingest_errors_total",
			Help:      "Rejected arrivals by error code.",
		}, []string{"code"}),
		allocationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: metricsSubsystem,
			Name:      "allocation_errors_total",
			Help:      "Cycles whose allocation was aborted.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: metricsSubsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Time from the start of ingestion to the observing phase.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		phaseVisits: make(map[string]int),
	}

	for _, c := range []prometheus.Collector{
		o.greenTime, o.priority, o.queueLength, o.phase, o.cycles,
		o.degenerateCycles, o.ingestErrors, o.allocationErrors, o.cycleDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// OnPhaseEnter records the current phase
func (o *MetricsObserver) OnPhaseEnter(_ cycle.CycleInfo, phase cycle.Phase) {
	o.phase.Set(float64(phase))

	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.phaseVisits[phase.String()]++
}

// OnCycleComplete records per-node and per-cycle metrics
func (o *MetricsObserver) OnCycleComplete(report *cycle.CycleReport) {
	for _, n := range report.Nodes {
		id := strconv.Itoa(n.ID)
		o.greenTime.WithLabelValues(id).Set(n.GreenTime)
		o.priority.WithLabelValues(id).Set(n.Priority)
		o.queueLength.WithLabelValues(id, "vehicle").Set(float64(n.Vehicles))
		o.queueLength.WithLabelValues(id, "pedestrian").Set(float64(n.Pedestrians))
	}

	o.cycles.Inc()
	if report.Degenerate {
		o.degenerateCycles.Inc()
	}
	o.cycleDuration.Observe(report.Duration.Seconds())

	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.lastReported = report.Seq
}

// OnIngestError counts a rejected arrival by its error code
func (o *MetricsObserver) OnIngestError(_ cycle.CycleInfo, err error) {
	o.ingestErrors.WithLabelValues(errorCode(err)).Inc()

	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.errorCount++
}

// OnAllocationError counts an aborted allocation
func (o *MetricsObserver) OnAllocationError(_ cycle.CycleInfo, _ error) {
	o.allocationErrors.Inc()

	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.errorCount++
}

// GetPhaseVisitCounts returns the number of times each phase was entered
func (o *MetricsObserver) GetPhaseVisitCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make(map[string]int)
	for phase, count := range o.phaseVisits {
		result[phase] = count
	}
	return result
}

// GetErrorCount returns the number of ingestion and allocation errors
func (o *MetricsObserver) GetErrorCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.errorCount
}

// LastReportedCycle returns the sequence number of the last observed cycle
func (o *MetricsObserver) LastReportedCycle() uint64 {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.lastReported
}

func errorCode(err error) string {
	var gerr *utils.GreensplitError
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return "UNKNOWN"
}
