package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mandy_commands_total",
		Help: "Control commands processed, by action and outcome",
	}, []string{"action", "outcome"})

	metricPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mandy_state_publishes_total",
		Help: "Authoritative state publishes to the broadcast channel",
	})
)
