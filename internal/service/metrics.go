package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Labels: feed (timeline, explore, profile)
	feedLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "microblog",
		Subsystem: "feed",
		Name:      "assemble_duration_seconds",
		Help:      "Time spent assembling one feed page",
		Buckets:   prometheus.DefBuckets,
	}, []string{"feed"})

	// Labels: topic, status (ok, error)
	outboxRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microblog",
		Subsystem: "events",
		Name:      "outbox_relayed_total",
		Help:      "Outbox events handed to the event publisher",
	}, []string{"topic", "status"})
)
