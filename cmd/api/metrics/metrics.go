package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_created_total",
		Help: "Jobs opened.",
	})
	StatusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_status_transitions_total",
		Help: "Committed job status transitions by target status.",
	}, []string{"status"})
	RemarksRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "job_remarks_recorded_total",
		Help: "Remarks recorded on the latest history entry.",
	})
	JobsDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_deleted_total",
		Help: "Jobs deleted together with their history.",
	})
	JobErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_operation_errors_total",
		Help: "Failed job operations by operation and error kind.",
	}, []string{"op", "kind"})
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_events_published_total",
		Help: "Job events published to redis, by type and result.",
	}, []string{"type", "result"})
	RateLimitRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Number of requests rejected by rate limiting.",
	}, []string{"route"})
	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_clients",
		Help: "Number of connected WebSocket clients",
	})
)

func init() {
	prometheus.MustRegister(
		JobsCreatedTotal,
		StatusTransitionsTotal,
		RemarksRecordedTotal,
		JobsDeletedTotal,
		JobErrorsTotal,
		EventsPublishedTotal,
		RateLimitRejectionsTotal,
		WSClients,
	)
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
