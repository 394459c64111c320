// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_recording_requests_total",
		Help: "Recording start/stop requests by result",
	}, []string{"op", "result"})

	recordingExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_recording_exits_total",
		Help: "Native errors by exit code category",
	}, []string{"category"})

	supervisorSpawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rootcap_supervisor_spawns_total",
		Help: "Native supervisors created by the recorder",
	})
)

// IncRecordingRequest counts a start or stop request.
func IncRecordingRequest(op, result string) {
	recordingRequestsTotal.WithLabelValues(op, result).Inc()
}

// IncRecordingExit counts an error by its exit code category.
func IncRecordingExit(category string) {
	recordingExitsTotal.WithLabelValues(category).Inc()
}

// IncSupervisorSpawn counts a new supervisor.
func IncSupervisorSpawn() {
	supervisorSpawnsTotal.Inc()
}
