package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rooms_created_total",
		Help: "Daily rooms provisioned through the relay",
	})

	metricUpstreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_upstream_failures_total",
		Help: "Failed calls to the control plane (unreachable or non-2xx)",
	})
)
