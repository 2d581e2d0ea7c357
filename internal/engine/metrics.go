package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// engineDuration - длительность работы процесса движка (по часам сервиса).
	engineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ds_engine_duration_seconds",
		Help:    "Длительность работы процесса движка поиска",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	// engineFailures - отказы движка по видам.
	engineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ds_engine_failures_total",
		Help: "Количество отказов движка поиска по видам",
	}, []string{"kind"})
)
