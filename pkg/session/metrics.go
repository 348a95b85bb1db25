package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "session_operator",
		Name:      "events_accepted_total",
		Help:      "Total events accepted by the session-window operator.",
	})

	sessionsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Subsystem: "session_operator",
		Name:      "sessions_emitted_total",
		Help:      "Total sessions emitted across all watermark and completion calls.",
	})

	activeKeysGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Subsystem: "session_operator",
		Name:      "active_keys",
		Help:      "Number of keys currently holding live window state.",
	})
)
