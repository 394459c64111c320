// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_proc_terminate_total",
		Help: "Signals sent while terminating process groups by outcome",
	}, []string{"signal", "outcome"}) // outcome=sent|esrch|error

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_proc_wait_total",
		Help: "Process group wait results after termination",
	}, []string{"result"})

	nativeStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_native_start_total",
		Help: "Native process spawn attempts by result",
	}, []string{"result"}) // result=ok|spawn_error

	nativeErrorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_native_error_total",
		Help: "Native process errors by phase and media-service relation",
	}, []string{"phase", "media_service"})

	protocolLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_protocol_lines_total",
		Help: "Protocol lines read from the native process by kind",
	}, []string{"kind"})

	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_native_state_transitions_total",
		Help: "Native process state transitions by target state",
	}, []string{"state"})

	mediaServiceRecoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rootcap_media_service_recovery_total",
		Help: "Media service kill-and-wait recoveries by outcome",
	}, []string{"outcome"}) // outcome=restarted|not_found|timeout
)

// IncProcTerminate counts a termination signal attempt.
func IncProcTerminate(signal, outcome string) {
	procTerminateTotal.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait counts the observed wait result after a termination.
func IncProcWait(result string) {
	procWaitTotal.WithLabelValues(result).Inc()
}

// IncNativeStart counts a native process spawn attempt.
func IncNativeStart(result string) {
	nativeStartTotal.WithLabelValues(result).Inc()
}

// IncNativeError counts a classified native error.
func IncNativeError(phase string, mediaService bool) {
	label := "false"
	if mediaService {
		label = "true"
	}
	nativeErrorTotal.WithLabelValues(phase, label).Inc()
}

// IncProtocolLine counts a protocol line by its dispatch kind.
func IncProtocolLine(kind string) {
	protocolLinesTotal.WithLabelValues(kind).Inc()
}

// IncStateTransition counts a state transition.
func IncStateTransition(state string) {
	stateTransitionsTotal.WithLabelValues(state).Inc()
}

// IncMediaServiceRecovery counts a media service recovery attempt.
func IncMediaServiceRecovery(outcome string) {
	mediaServiceRecoveryTotal.WithLabelValues(outcome).Inc()
}
