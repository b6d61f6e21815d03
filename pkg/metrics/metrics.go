// Package metrics records dispatch outcomes in Prometheus.
package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const logPrefix = "metrics:metrics"

const namespace = "nav"

// Recorder receives dispatch measurements. It also satisfies
// middleware.Observer so the chain can report vetoes and faults directly.
type Recorder interface {
	DispatchFinished(state string)
	LaunchObserved(d time.Duration)
	SetPending(n int)
	OnVeto(name, path string)
	OnFault(name, path string, err error)
}

// NoOp discards everything.
type NoOp struct{}

func (NoOp) DispatchFinished(string)       {}
func (NoOp) LaunchObserved(time.Duration)  {}
func (NoOp) SetPending(int)                {}
func (NoOp) OnVeto(string, string)         {}
func (NoOp) OnFault(string, string, error) {}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	dispatches *prometheus.CounterVec
	vetoes     *prometheus.CounterVec
	faults     *prometheus.CounterVec
	launch     prometheus.Histogram
	pending    prometheus.Gauge
}

// NewPrometheus creates the collectors and registers them with reg. A nil
// reg leaves them unregistered.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatches by terminal state.",
		}, []string{"state"}),
		vetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_veto_total",
			Help:      "Navigations vetoed, by middleware.",
		}, []string{"middleware"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "middleware_fault_total",
			Help:      "Middleware faults, by middleware.",
		}, []string{"middleware"}),
		launch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Time spent in the launch backend.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_results",
			Help:      "Result tokens waiting for a result.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{p.dispatches, p.vetoes, p.faults, p.launch, p.pending} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("%s - failed to register collector: %w", logPrefix, err)
			}
		}
		slog.Debug(fmt.Sprintf("%s - Registered dispatch collectors", logPrefix))
	}
	return p, nil
}

func (p *Prometheus) DispatchFinished(state string) {
	p.dispatches.WithLabelValues(state).Inc()
}

func (p *Prometheus) LaunchObserved(d time.Duration) {
	p.launch.Observe(d.Seconds())
}

func (p *Prometheus) SetPending(n int) {
	p.pending.Set(float64(n))
}

func (p *Prometheus) OnVeto(name, _ string) {
	p.vetoes.WithLabelValues(name).Inc()
}

func (p *Prometheus) OnFault(name, _ string, _ error) {
	p.faults.WithLabelValues(name).Inc()
}
