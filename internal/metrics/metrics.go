// Package metrics exposes loop counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Loop state values reported by the ralph_loop_state gauge.
const (
	StateIdle    = 0
	StateRunning = 1
	StatePaused  = 2
)

// Metrics holds the loop's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Iterations         prometheus.Counter
	Completions        prometheus.Counter
	Dispatches         *prometheus.CounterVec
	DispatchFailures   prometheus.Counter
	InactivityTimeouts prometheus.Counter
	InactivityChoices  *prometheus.CounterVec
	TaskDuration       prometheus.Histogram
	LoopState          prometheus.Gauge
	PendingTasks       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the loop collectors with registry.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Iterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_iterations_total",
			Help: "Task dispatches counted against the iteration limit",
		}),
		Completions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_task_completions_total",
			Help: "Tasks detected as completed",
		}),
		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_dispatches_total",
				Help: "Instructions handed to the agent, by delivery channel",
			},
			[]string{"channel"},
		),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_dispatch_failures_total",
			Help: "Dispatches no channel accepted",
		}),
		InactivityTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ralph_inactivity_timeouts_total",
			Help: "Times the inactivity watchdog fired",
		}),
		InactivityChoices: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ralph_inactivity_choices_total",
				Help: "Operator answers to the inactivity prompt",
			},
			[]string{"choice"},
		),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ralph_task_duration_seconds",
			Help:    "Time from dispatch to detected completion",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		LoopState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_loop_state",
			Help: "0 idle, 1 running, 2 paused",
		}),
		PendingTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ralph_pending_tasks",
			Help: "Pending and in-progress tasks in the ledger",
		}),
		gatherer: registry,
	}
}

// NewRegistry creates a fresh registry with the loop collectors.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

func (m *Metrics) IterationStarted() {
	if m == nil {
		return
	}
	m.Iterations.Inc()
}

func (m *Metrics) TaskDispatched(channel string) {
	if m == nil {
		return
	}
	if channel == "" {
		m.DispatchFailures.Inc()
		return
	}
	m.Dispatches.WithLabelValues(channel).Inc()
}

func (m *Metrics) TaskCompleted(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Completions.Inc()
	m.TaskDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) InactivityTimeout() {
	if m == nil {
		return
	}
	m.InactivityTimeouts.Inc()
}

func (m *Metrics) InactivityChoice(choice string) {
	if m == nil {
		return
	}
	m.InactivityChoices.WithLabelValues(choice).Inc()
}

func (m *Metrics) SetLoopState(state int) {
	if m == nil {
		return
	}
	m.LoopState.Set(float64(state))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingTasks.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("serving metrics", "addr", addr)
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
