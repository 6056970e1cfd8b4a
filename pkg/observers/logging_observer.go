// Package observers provides observers for monitoring the allocation cycle
package observers

import (
	"github.com/go-logr/logr"

	"github.com/anggasct/greensplit/pkg/cycle"
	"github.com/anggasct/greensplit/pkg/utils"
)

// LoggingObserver writes cycle results to a logr.Logger. Per-node status
// lines are logged at the default level; phase changes at TRACE.
type LoggingObserver struct {
	cycle.BaseObserver
	logger logr.Logger
}

// NewLoggingObserver creates a logging observer
func NewLoggingObserver(logger logr.Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

// OnPhaseEnter logs phase changes
func (o *LoggingObserver) OnPhaseEnter(info cycle.CycleInfo, phase cycle.Phase) {
	o.logger.V(utils.TRACE).Info("Entering phase", "cycle", info.Seq, "phase", phase.String())
}

// OnCycleComplete logs one status line per intersection
func (o *LoggingObserver) OnCycleComplete(report *cycle.CycleReport) {
	logger := o.logger.WithValues("cycle", report.Seq, "cycleID", report.ID.String())

	for _, n := range report.Nodes {
		kv := []interface{}{
			"id", n.ID,
			"vehicles", n.Vehicles,
			"pedestrians", n.Pedestrians,
			"priority", n.Priority,
			"greenTime", n.GreenTime,
		}
		if n.Name != "" {
			kv = append(kv, "name", n.Name)
		}
		logger.Info("Intersection status", kv...)
	}

	logger.V(utils.VERBOSE).Info("Cycle summary",
		"totalPriority", report.TotalPriority,
		"degenerate", report.Degenerate,
		"rejectedArrivals", len(report.IngestErrors),
		"duration", report.Duration)
}

// OnIngestError logs a rejected arrival
func (o *LoggingObserver) OnIngestError(info cycle.CycleInfo, err error) {
	o.logger.V(utils.VERBOSE).Info("Rejected arrival", "cycle", info.Seq, "error", err.Error())
}

// OnAllocationError logs an aborted allocation
func (o *LoggingObserver) OnAllocationError(info cycle.CycleInfo, err error) {
	o.logger.Error(err, "Allocation aborted", "cycle", info.Seq)
}

// OnControllerStarted logs controller start
func (o *LoggingObserver) OnControllerStarted() {
	o.logger.V(utils.DEBUG).Info("Observing controller")
}

// OnControllerStopped logs controller stop
func (o *LoggingObserver) OnControllerStopped() {
	o.logger.V(utils.DEBUG).Info("Controller stopped, observer detached")
}
