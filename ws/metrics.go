package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletchat_ws_frames_total",
		Help: "Inbound frames by classified event kind.",
	}, []string{"kind"})

	wsErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletchat_ws_errors_total",
		Help: "Surfaced network errors by kind.",
	}, []string{"kind"})

	wsConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulletchat_ws_connects_total",
		Help: "Connect attempts by result.",
	}, []string{"result"})
)
