package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики прогонов и узлов. Экспортируются на /metrics endpoint.
var (
	// RunsStarted — количество запущенных прогонов flow.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fdl_runs_started_total",
		Help: "Количество запущенных прогонов",
	})

	// RunsCompleted — количество успешно завершённых прогонов.
	RunsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fdl_runs_completed_total",
		Help: "Количество успешно завершённых прогонов",
	})

	// RunsFailed — количество прогонов, завершившихся ошибкой.
	RunsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fdl_runs_failed_total",
		Help: "Количество прогонов с ошибкой",
	})

	// RunDuration — длительность прогона в секундах.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fdl_run_duration_seconds",
		Help:    "Длительность прогона flow",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	// NodeExecutions — исполнения узлов по типу и результату.
	NodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fdl_node_executions_total",
		Help: "Исполнения узлов по типу и результату",
	}, []string{"node_type", "result"})

	// NodeDuration — длительность исполнения узла в секундах.
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fdl_node_duration_seconds",
		Help:    "Длительность исполнения узла",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"node_type"})
)
