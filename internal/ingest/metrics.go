package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "particle",
		Name:      "uploads_total",
		Help:      "Image uploads to the ingestion endpoint by result.",
	}, []string{"result"})

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "particle",
		Name:      "upload_bytes_total",
		Help:      "Image bytes accepted by the ingestion endpoint.",
	})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "particle",
		Name:      "upload_duration_seconds",
		Help:      "Time from request start to a 2xx response.",
		Buckets:   prometheus.DefBuckets,
	})
)
