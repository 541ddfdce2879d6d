package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	EnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mail_enqueued_total", Help: "Email jobs handed to the queue"},
		[]string{"category"},
	)
	SentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mail_sent_total", Help: "Email jobs completed successfully"},
		[]string{"category"},
	)
	FailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mail_failed_total", Help: "Email jobs that exhausted their attempts"},
		[]string{"category"},
	)
	StalledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mail_stalled_total", Help: "Email jobs reclaimed after a lease expired"},
		[]string{"category"},
	)
	ThrottleRejects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mail_campaign_throttle_rejects_total", Help: "Campaign submissions rejected by the per-tenant throttle"},
	)
	QueueDepthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "mail_queue_depth", Help: "Waiting email jobs across priorities"},
	)
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			EnqueuedTotal,
			SentTotal,
			FailedTotal,
			StalledTotal,
			ThrottleRejects,
			QueueDepthGauge,
		)
	})
	return promhttp.Handler()
}
