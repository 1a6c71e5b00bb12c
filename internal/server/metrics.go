package server

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	runs           *prometheus.CounterVec
	runSeconds     prometheus.Histogram
	transitions    prometheus.Histogram
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hdlsim",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		requestSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hdlsim",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hdlsim",
			Name:      "runs_total",
			Help:      "Runs by outcome: simulated, compile_failed or error.",
		}, []string{"outcome"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hdlsim",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a single run.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		transitions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hdlsim",
			Name:      "run_transitions",
			Help:      "Transitions recorded per successful run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	m.registry.MustRegister(m.requests, m.requestSeconds, m.runs, m.runSeconds, m.transitions)
	return m
}
