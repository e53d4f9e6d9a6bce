package download

import "github.com/prometheus/client_golang/prometheus"

var (
	bytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelhost",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written to model files",
		},
	)

	transfersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelhost",
			Subsystem: "download",
			Name:      "active_transfers",
			Help:      "Transfers currently holding a pool slot",
		},
	)

	transfersQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelhost",
			Subsystem: "download",
			Name:      "queued_transfers",
			Help:      "Accepted transfers waiting for a pool slot",
		},
	)

	transfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelhost",
			Subsystem: "download",
			Name:      "transfers_total",
			Help:      "Finished transfers by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(bytesTotal, transfersActive, transfersQueued, transfersTotal)
}
