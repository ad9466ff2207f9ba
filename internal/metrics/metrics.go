// Package metrics exposes agent counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/melih-ucgun/doorman/internal/accesslist"
	"github.com/melih-ucgun/doorman/internal/core"
	"github.com/melih-ucgun/doorman/internal/engine"
)

const namespace = "doorman"

// Metrics holds every collector on its own registry. It satisfies the
// observer interfaces of extip, accesslist and engine.
type Metrics struct {
	Registry *prometheus.Registry

	Cycles           *prometheus.CounterVec
	CycleDuration    prometheus.Histogram
	Probes           *prometheus.CounterVec
	ProbeDuration    *prometheus.HistogramVec
	Mutations        *prometheus.CounterVec
	MutationAttempts *prometheus.HistogramVec
	State            *prometheus.GaugeVec
	Info             *prometheus.GaugeVec

	stateMu sync.Mutex
}

func New(listID, version string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reconciliation cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reconciliation cycles.",
			Buckets:   prometheus.DefBuckets,
		}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "requests_total",
			Help:      "External address probes by probe and result.",
		}, []string{"probe", "result"}),
		ProbeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "External address probe latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"probe"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "list",
			Name:      "mutations_total",
			Help:      "Access-list mutations by operation and error kind.",
		}, []string{"op", "kind"}),
		MutationAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "list",
			Name:      "mutation_attempts",
			Help:      "Attempts needed per mutation, retries included.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"op"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current engine state, 1 for the active one.",
		}, []string{"state"}),
		Info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Build and target information.",
		}, []string{"version", "list"}),
	}

	m.Registry.MustRegister(
		m.Cycles, m.CycleDuration,
		m.Probes, m.ProbeDuration,
		m.Mutations, m.MutationAttempts,
		m.State, m.Info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.Info.WithLabelValues(version, listID).Set(1)
	for _, st := range engine.States {
		m.State.WithLabelValues(st.String()).Set(0)
	}
	return m
}

func (m *Metrics) ObserveCycle(outcome string, elapsed time.Duration) {
	m.Cycles.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
}

// ObserveState flips the state series in place, so a scrape always sees
// exactly one active state once the engine has started.
func (m *Metrics) ObserveState(state string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	m.State.WithLabelValues(state).Set(1)
	for _, st := range engine.States {
		if st.String() != state {
			m.State.WithLabelValues(st.String()).Set(0)
		}
	}
}

func (m *Metrics) ObserveProbe(probe string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Probes.WithLabelValues(probe, result).Inc()
	m.ProbeDuration.WithLabelValues(probe).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMutation(op string, attempts int, err error) {
	m.Mutations.WithLabelValues(op, accesslist.KindName(err)).Inc()
	m.MutationAttempts.WithLabelValues(op).Observe(float64(attempts))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger core.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
