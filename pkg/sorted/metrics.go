package sorted

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "sorted_aggregator",
		Name:      "records_accepted_total",
		Help:      "Total records accepted into a partition.",
	}, []string{"partition"})

	recordsSpilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "sorted_aggregator",
		Name:      "records_spilled_total",
		Help:      "Total records written to spill runs.",
	}, []string{"partition"})

	spillRunsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "sorted_aggregator",
		Name:      "spill_runs_created_total",
		Help:      "Total spill run files created.",
	}, []string{"partition"})

	blocksAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Subsystem: "sorted_aggregator",
		Name:      "blocks_available",
		Help:      "Free blocks currently sitting in the shared pool.",
	}, []string{})
)
