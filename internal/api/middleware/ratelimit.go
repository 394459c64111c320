// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rootcap_http_rate_limited_total",
	Help: "Requests rejected by the control API rate limiter",
}, []string{"class"})

// RateClass is an independently counted group of routes. Requests are keyed
// by client IP within a class, so a burst of status polls never eats into
// the budget for privileged audio operations.
type RateClass struct {
	Name   string
	Limit  int
	Window time.Duration
}

// RateLimit limits the routes it wraps to class.Limit requests per window.
// A non-positive limit disables it.
func RateLimit(class RateClass) func(http.Handler) http.Handler {
	if class.Limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if class.Window <= 0 {
		class.Window = time.Minute
	}
	retryAfter := strconv.Itoa(int(math.Ceil(class.Window.Seconds())))
	body, _ := json.Marshal(map[string]string{"error": "rate_limit_exceeded", "class": class.Name})

	return httprate.Limit(
		class.Limit,
		class.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP, func(*http.Request) (string, error) { return class.Name, nil }),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			rateLimitedTotal.WithLabelValues(class.Name).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(body)
		}),
	)
}
