// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the CoAP/radio
// gateway.
package metrics

import (
	"sync"
	"time"

	"github.com/absmach/coapbridge/pkg/bridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Transport metrics
	CoAPMessages      *prometheus.CounterVec
	RadioMessages     *prometheus.CounterVec
	MalformedMessages *prometheus.CounterVec
	TransportErrors   *prometheus.CounterVec
	ActivePeers       prometheus.Gauge

	// Dispatch metrics
	DispatchDuration *prometheus.HistogramVec

	// Bridge telemetry
	PendingRequests prometheus.Gauge
	MeanRTT         prometheus.Gauge
	Jitter          prometheus.Gauge
	Pings           prometheus.Counter
	Completed       prometheus.Counter
	TimedOut        prometheus.Counter
	StrayReplies    prometheus.Counter

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitedRequests prometheus.Counter

	mu   sync.Mutex
	last bridge.Telemetry
}

// New creates a new Metrics instance registered with reg. A nil reg uses
// the default Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "coapbridge"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		CoAPMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coap_messages_total",
				Help:      "Total number of CoAP messages",
			},
			[]string{"direction", "type", "code"},
		),
		RadioMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "radio_messages_total",
				Help:      "Total number of radio messages",
			},
			[]string{"direction", "code"},
		),
		MalformedMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "malformed_messages_total",
				Help:      "Total number of messages that failed to decode",
			},
			[]string{"transport"},
		),
		TransportErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Total number of transport read and write errors",
			},
			[]string{"transport", "operation"},
		),
		ActivePeers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_peers",
				Help:      "Number of CoAP peers with a live session",
			},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent dispatching one inbound message",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"transport", "status"},
		),
		PendingRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Number of requests waiting for a radio reply",
			},
		),
		MeanRTT: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rtt_mean_seconds",
				Help:      "Smoothed round trip time of completed requests",
			},
		),
		Jitter: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rtt_jitter_seconds",
				Help:      "Smoothed round trip time variation",
			},
		),
		Pings: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pings_total",
				Help:      "Total number of pings sent and answered",
			},
		),
		Completed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completed_requests_total",
				Help:      "Total number of pending requests that received a reply",
			},
		),
		TimedOut: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timed_out_requests_total",
				Help:      "Total number of pending requests removed without a reply",
			},
		),
		StrayReplies: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stray_replies_total",
				Help:      "Total number of replies without a pending request",
			},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"target"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"target"},
		),
		RateLimitedRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of CoAP datagrams dropped by the rate limiter",
			},
		),
	}

	return m
}

// ObserveTelemetry publishes a bridge telemetry snapshot. Counters advance
// by the difference from the previous snapshot.
func (m *Metrics) ObserveTelemetry(t bridge.Telemetry, pending int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PendingRequests.Set(float64(pending))
	m.MeanRTT.Set(t.MeanRTT.Seconds())
	m.Jitter.Set(t.LastJitter.Seconds())

	addDelta(m.Pings, t.PingCount, m.last.PingCount)
	addDelta(m.Completed, t.Completed, m.last.Completed)
	addDelta(m.TimedOut, t.TimedOut, m.last.TimedOut)
	addDelta(m.StrayReplies, t.Stray, m.last.Stray)
	m.last = t
}

// ObserveDispatch times f and records its outcome for transport.
func (m *Metrics) ObserveDispatch(transport string, f func() error) error {
	start := time.Now()
	err := f()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.DispatchDuration.WithLabelValues(transport, status).Observe(time.Since(start).Seconds())

	return err
}

func addDelta(c prometheus.Counter, current, previous uint64) {
	if current > previous {
		c.Add(float64(current - previous))
	}
}
