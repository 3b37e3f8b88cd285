package webrtc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricStates = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkfire_peer_state_transitions_total",
	Help: "Peer connection state transitions by resulting state.",
}, []string{"state"})
