package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelhost",
			Subsystem: "server",
			Name:      "loads_total",
			Help:      "Model load requests by result (spawned, reused, failed).",
		},
		[]string{"result"},
	)
	serverUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelhost",
			Subsystem: "server",
			Name:      "up",
			Help:      "1 when an inference server is running and ready.",
		},
	)
	shutdownsForced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelhost",
			Subsystem: "server",
			Name:      "shutdowns_forced_total",
			Help:      "Inference servers killed after the graceful shutdown window.",
		},
	)
	chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelhost",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Proxied chat completions by mode and result.",
		},
		[]string{"mode", "result"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, serverUp, shutdownsForced, chatRequests)
}

func setServerUp(up bool) {
	if up {
		serverUp.Set(1)
		return
	}
	serverUp.Set(0)
}
