// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	driverOperationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_audio_driver_operation_total",
		Help: "Audio driver install/uninstall operations by result",
	}, []string{"operation", "result"}) // result=ok|skipped|failed

	driverOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rootcap_audio_driver_operation_duration_seconds",
		Help:    "Duration of audio driver operations",
		Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 10), // 50ms to ~25s
	}, []string{"operation"})

	driverStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rootcap_audio_driver_status",
		Help: "Current audio driver installation status (1 for the active status)",
	}, []string{"status"})

	driverCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_audio_driver_coalesced_total",
		Help: "Install/uninstall requests remembered while another operation was running",
	}, []string{"operation"})

	stabilityOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_stability_outcome_total",
		Help: "Post-install stability check outcomes",
	}, []string{"outcome"})
)

// ObserveDriverOperation records an install or uninstall result.
func ObserveDriverOperation(operation, result string, d time.Duration) {
	driverOperationTotal.WithLabelValues(operation, result).Inc()
	driverOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SetDriverStatus marks status as the single active driver status.
func SetDriverStatus(status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		driverStatus.WithLabelValues(s).Set(v)
	}
}

// IncDriverCoalesced counts a coalesced driver request.
func IncDriverCoalesced(operation string) {
	driverCoalescedTotal.WithLabelValues(operation).Inc()
}

// IncStabilityOutcome counts a stability monitor outcome.
func IncStabilityOutcome(outcome string) {
	stabilityOutcomeTotal.WithLabelValues(outcome).Inc()
}
