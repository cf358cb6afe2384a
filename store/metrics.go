package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bulletchat_store_messages",
		Help: "Number of visible chat messages.",
	})

	storeEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletchat_store_evictions_total",
		Help: "Messages removed from history by capacity or TTL.",
	}, []string{"reason"})
)
