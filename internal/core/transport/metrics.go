package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 发送 / 连接建立指标
var (
	metricSendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siptransport",
		Subsystem: "send",
		Name:      "attempts_total",
		Help:      "Per-candidate delivery attempts.",
	}, []string{"protocol"})

	metricSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "siptransport",
		Subsystem: "send",
		Name:      "failures_total",
		Help:      "Sends that exhausted the whole candidate list.",
	})

	metricEstablished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "siptransport",
		Subsystem: "connect",
		Name:      "established_total",
		Help:      "Successfully established outbound connections.",
	}, []string{"protocol"})

	metricLockBusy = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "siptransport",
		Subsystem: "connect",
		Name:      "lock_busy_total",
		Help:      "Connect attempts rejected after the soft-lock retry budget.",
	})
)
