package upload

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// publishesTotal counts finished publishes by outcome kind.
	publishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidpub_publishes_total",
		Help: "Finished publish calls by outcome.",
	}, []string{"outcome"})

	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidpub_publish_duration_seconds",
		Help:    "Wall time of publish calls from initiation to terminal state.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	bytesAcknowledged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpub_upload_bytes_acknowledged_total",
		Help: "Bytes the platform acknowledged across all sessions.",
	})

	chunkRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpub_chunk_retries_total",
		Help: "Chunk send attempts that were retried after a transient failure.",
	})

	authRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidpub_auth_recoveries_total",
		Help: "Mid-upload token refreshes after an authentication failure.",
	})

	activePublishes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidpub_active_publishes",
		Help: "Publish calls currently in flight.",
	})
)
