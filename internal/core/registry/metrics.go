package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 注册表规模指标
var (
	gaugeListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "siptransport",
		Subsystem: "registry",
		Name:      "listeners",
		Help:      "Number of live listener entries.",
	})

	gaugeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "siptransport",
		Subsystem: "registry",
		Name:      "connections",
		Help:      "Number of live connection entries.",
	})
)
