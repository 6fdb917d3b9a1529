// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Claim outcomes.
const (
	ClaimAccepted = "accepted"
	ClaimRejected = "rejected"
	ClaimInvalid  = "invalid"
	ClaimError    = "error"
)

// Persistence outcomes.
const (
	PersistSuccess = "success"
	PersistFailure = "failure"
)

// Metrics groups every collector used by the service.
type Metrics struct {
	Claims          *prometheus.CounterVec
	Persists        *prometheus.CounterVec
	PersistDuration prometheus.Histogram
	PersistInFlight prometheus.Gauge
	Releases        prometheus.Counter
	Connections     prometheus.Gauge
	RoomJoins       prometheus.Counter
	DroppedMessages prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests so each test owns its own collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestsync",
			Name:      "claims_total",
			Help:      "Claim requests by arbitration outcome.",
		}, []string{"outcome"}),
		Persists: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guestsync",
			Name:      "persists_total",
			Help:      "Persistence calls by outcome.",
		}, []string{"outcome"}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "guestsync",
			Name:      "persist_duration_seconds",
			Help:      "Latency of the guest store collaborator.",
			Buckets:   prometheus.DefBuckets,
		}),
		PersistInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "guestsync",
			Name:      "persists_in_flight",
			Help:      "Persistence calls currently outstanding.",
		}),
		Releases: f.NewCounter(prometheus.CounterOpts{
			Namespace: "guestsync",
			Name:      "claim_releases_total",
			Help:      "Claims rolled back after a failed persist.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "guestsync",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		RoomJoins: f.NewCounter(prometheus.CounterOpts{
			Namespace: "guestsync",
			Name:      "room_joins_total",
			Help:      "Room joins, counting only first membership.",
		}),
		DroppedMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: "guestsync",
			Name:      "dropped_messages_total",
			Help:      "Outbound messages dropped because a client buffer was full.",
		}),
	}
}

// Nop returns collectors registered nowhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
