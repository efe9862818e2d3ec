package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"whispercall/internal/core/domain"
)

// PrometheusCollector implements the MetricsCollector port.
type PrometheusCollector struct {
	callsInitiated     *prometheus.CounterVec
	callsRinging       prometheus.Counter
	callsConnected     prometheus.Counter
	callsEnded         *prometheus.CounterVec
	callDuration       prometheus.Histogram
	candidatesBuffered *prometheus.CounterVec
	turnRefreshes      prometheus.Counter
	envelopesDropped   *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callsInitiated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whispercall_calls_initiated_total",
			Help: "Outgoing calls started, by media kind",
		}, []string{"kind"}),

		callsRinging: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispercall_calls_ringing_total",
			Help: "Incoming calls that raised an alert",
		}),

		callsConnected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispercall_calls_connected_total",
			Help: "Calls that reached the connected state",
		}),

		callsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whispercall_calls_ended_total",
			Help: "Finished calls by history status",
		}, []string{"status"}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "whispercall_call_duration_seconds",
			Help:    "Duration of connected calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		candidatesBuffered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whispercall_ice_candidates_buffered_total",
			Help: "ICE candidates held back by a closed gate",
		}, []string{"direction"}),

		turnRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "whispercall_turn_refreshes_total",
			Help: "TURN credential sets received",
		}),

		envelopesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "whispercall_envelopes_dropped_total",
			Help: "Inbound envelopes discarded, by reason",
		}, []string{"reason"}),
	}
}

func (p *PrometheusCollector) CallInitiated(video bool) {
	kind := "audio"
	if video {
		kind = "video"
	}
	p.callsInitiated.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) CallRinging() {
	p.callsRinging.Inc()
}

func (p *PrometheusCollector) CallConnected() {
	p.callsConnected.Inc()
}

func (p *PrometheusCollector) CallEnded(status domain.HistoryStatus, duration time.Duration) {
	p.callsEnded.WithLabelValues(string(status)).Inc()
	if duration > 0 {
		p.callDuration.Observe(duration.Seconds())
	}
}

func (p *PrometheusCollector) CandidateBuffered(local bool) {
	direction := "remote"
	if local {
		direction = "local"
	}
	p.candidatesBuffered.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) TurnRefreshed() {
	p.turnRefreshes.Inc()
}

func (p *PrometheusCollector) EnvelopeDropped(reason string) {
	p.envelopesDropped.WithLabelValues(reason).Inc()
}
