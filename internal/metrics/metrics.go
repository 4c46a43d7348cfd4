package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgr",
			Subsystem: "event",
			Name:      "received_total",
			Help:      "Number of decoded lifecycle events by kind.",
		}, []string{"kind"},
	)
	decodeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bridgr",
			Subsystem: "event",
			Name:      "decode_failures_total",
			Help:      "Number of frames dropped because the event payload was malformed.",
		},
	)
	ruleFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgr",
			Subsystem: "rule",
			Name:      "fires_total",
			Help:      "Number of rule firings by rule id.",
		}, []string{"rule"},
	)
	ruleSuppressions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgr",
			Subsystem: "rule",
			Name:      "suppressed_total",
			Help:      "Number of matches suppressed by cooldown, by rule id.",
		}, []string{"rule"},
	)
	actionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgr",
			Subsystem: "action",
			Name:      "executed_total",
			Help:      "Number of dispatched actions by kind and outcome.",
		}, []string{"kind", "outcome"},
	)
	controlCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgr",
			Subsystem: "control",
			Name:      "calls_total",
			Help:      "Number of control RPC calls by method and outcome.",
		}, []string{"method", "outcome"},
	)
	controlCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridgr",
			Subsystem: "control",
			Name:      "call_duration_seconds",
			Help:      "Latency of control RPC calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{eventsReceived, decodeFailures, ruleFires, ruleSuppressions, actionsExecuted, controlCalls, controlCallDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics from the
// default gatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncEventReceived(kind string) {
	if regOK.Load() {
		eventsReceived.WithLabelValues(kind).Inc()
	}
}

func IncDecodeFailure() {
	if regOK.Load() {
		decodeFailures.Inc()
	}
}

func IncRuleFired(rule string) {
	if regOK.Load() {
		ruleFires.WithLabelValues(rule).Inc()
	}
}

func IncRuleSuppressed(rule string) {
	if regOK.Load() {
		ruleSuppressions.WithLabelValues(rule).Inc()
	}
}

func IncActionExecuted(kind string, ok bool) {
	if regOK.Load() {
		actionsExecuted.WithLabelValues(kind, outcome(ok)).Inc()
	}
}

func ObserveControlCall(method string, ok bool, seconds float64) {
	if regOK.Load() {
		controlCalls.WithLabelValues(method, outcome(ok)).Inc()
		controlCallDuration.WithLabelValues(method).Observe(seconds)
	}
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
