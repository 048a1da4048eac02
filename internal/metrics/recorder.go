// Package metrics exposes bot activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deadlinebot"

// Recorder records conversation, delivery and digest activity. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	registry       *prom.Registry
	transitions    *prom.CounterVec
	fallbacks      *prom.CounterVec
	timeouts       prom.Counter
	activeSessions prom.Gauge
	digestSends    *prom.CounterVec
	digestDuration *prom.HistogramVec
	deliveries     *prom.CounterVec
	tableReloads   *prom.CounterVec
	tableRows      prom.Gauge
}

// NewRecorder constructs the metrics and registers them with reg. A nil reg
// gets a private registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		registry: reg,
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_transitions_total",
			Help:      "Conversation state transitions",
		}, []string{"from", "to"}),
		fallbacks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_fallbacks_total",
			Help:      "Unrecognized inputs by state",
		}, []string{"state"}),
		timeouts: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_timeouts_total",
			Help:      "Sessions ended by the idle timeout",
		}),
		activeSessions: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_active_sessions",
			Help:      "Live conversation sessions",
		}),
		digestSends: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "digest_sends_total",
			Help:      "Digest deliveries by kind and result",
		}, []string{"kind", "result"}),
		digestDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "digest_run_duration_seconds",
			Help:      "Duration of digest runs",
			Buckets:   prom.DefBuckets,
		}, []string{"kind"}),
		deliveries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transport_deliveries_total",
			Help:      "Outbound messages by transport and result",
		}, []string{"transport", "result"}),
		tableReloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "deadline_table_reloads_total",
			Help:      "Shared deadline table reloads by result",
		}, []string{"result"}),
		tableRows: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "deadline_table_rows",
			Help:      "Rows in the shared deadline table",
		}),
	}
	reg.MustRegister(r.transitions, r.fallbacks, r.timeouts, r.activeSessions,
		r.digestSends, r.digestDuration, r.deliveries, r.tableReloads, r.tableRows)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (r *Recorder) RecordTransition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) RecordFallback(state string) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(state).Inc()
}

func (r *Recorder) RecordTimeout() {
	if r == nil {
		return
	}
	r.timeouts.Inc()
}

func (r *Recorder) SetActiveSessions(n int) {
	if r == nil {
		return
	}
	r.activeSessions.Set(float64(n))
}

func (r *Recorder) RecordDigestSend(kind string, ok bool) {
	if r == nil {
		return
	}
	r.digestSends.WithLabelValues(kind, result(ok)).Inc()
}

func (r *Recorder) RecordDigestRun(kind string, took time.Duration) {
	if r == nil {
		return
	}
	r.digestDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (r *Recorder) RecordDelivery(transport string, ok bool) {
	if r == nil {
		return
	}
	r.deliveries.WithLabelValues(transport, result(ok)).Inc()
}

// RecordTableReload matches the deadlines watcher's reload callback.
func (r *Recorder) RecordTableReload(rows int, err error) {
	if r == nil {
		return
	}
	r.tableReloads.WithLabelValues(result(err == nil)).Inc()
	if err == nil {
		r.tableRows.Set(float64(rows))
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
