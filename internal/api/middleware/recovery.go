// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/ManuGH/rootcap/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var panicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rootcap_http_panics_total",
	Help: "Panics recovered in control API handlers",
}, []string{"route"})

// Recoverer turns a handler panic into a JSON 500 carrying the request id.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			route := routePattern(r)
			panicsTotal.WithLabelValues(route).Inc()
			reqID := log.RequestIDFromContext(r.Context())

			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Error().
				Str(log.FieldEvent, "http.panic").
				Str("method", r.Method).
				Str("route", route).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("control API handler panicked")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":     "internal_error",
				"requestId": reqID,
			})
		}()

		next.ServeHTTP(w, r)
	})
}

// routePattern is the matched chi pattern, which keeps label cardinality
// bounded; "unmatched" when routing has not completed.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
