package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
)

type Metrics struct {
	MessagesPersisted *prometheus.CounterVec
	InferenceRequests *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	RateLimited       prometheus.Counter
	Uploads           *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			MessagesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "privchat",
				Name:      "messages_persisted_total",
				Help:      "Messages written to storage, by author kind",
			}, []string{"author"}),
			InferenceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "privchat",
				Name:      "inference_requests_total",
				Help:      "Inference calls by resolved provider and outcome",
			}, []string{"provider", "outcome"}),
			InferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "privchat",
				Name:      "inference_duration_seconds",
				Help:      "Latency of inference calls",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			}, []string{"provider"}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "privchat",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the per-user rate limit",
			}),
			Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "privchat",
				Name:      "attachment_uploads_total",
				Help:      "Attachment uploads to object storage by outcome",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			global.MessagesPersisted,
			global.InferenceRequests,
			global.InferenceDuration,
			global.RateLimited,
			global.Uploads,
		)
	})
	return global
}
