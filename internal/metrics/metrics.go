package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hightrade_cycles_total",
		Help: "Monitoring cycles completed.",
	})
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hightrade_cycle_duration_seconds",
		Help:    "Wall time of one monitoring cycle.",
		Buckets: prometheus.DefBuckets,
	})
	AlertFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hightrade_alert_transport_failures_total",
		Help: "Alert deliveries dropped after a transport error.",
	}, []string{"channel"})
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hightrade_alerts_sent_total",
		Help: "Alert deliveries that reached the transport.",
	}, []string{"channel", "kind"})
	SourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hightrade_source_errors_total",
		Help: "Upstream fetch failures by source.",
	}, []string{"source"})
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hightrade_commands_processed_total",
		Help: "IPC commands consumed by verb.",
	}, []string{"verb"})
	DefconLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hightrade_defcon_level",
		Help: "Current DEFCON level (5 peacetime, 1 crisis).",
	})
)

// Handler exposes the default registry for the status HTTP server.
func Handler() http.Handler {
	return promhttp.Handler()
}
