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
	nativeCommandTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_native_command_total",
		Help: "Correlated native commands by command and outcome",
	}, []string{"command", "outcome"}) // outcome=ok|failed|timeout|cancelled|write_failed|fallback

	nativeCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rootcap_native_command_duration_seconds",
		Help:    "Round-trip time of correlated native commands",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 12), // 5ms to ~10s
	}, []string{"command"})

	staleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rootcap_native_command_stale_results_total",
		Help: "Command results dropped because their id did not match the pending request",
	})

	shellExecTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_shell_exec_total",
		Help: "Shell executions by result",
	}, []string{"result"}) // result=ok|nonzero|timeout|spawn_error
)

// ObserveNativeCommand records the outcome and round-trip time of a command.
func ObserveNativeCommand(command, outcome string, d time.Duration) {
	nativeCommandTotal.WithLabelValues(command, outcome).Inc()
	nativeCommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// IncStaleResult counts a dropped stale command result.
func IncStaleResult() {
	staleResultsTotal.Inc()
}

// IncShellExec counts a shell execution result.
func IncShellExec(result string) {
	shellExecTotal.WithLabelValues(result).Inc()
}
