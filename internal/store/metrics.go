package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handleOpensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piecework_store_handle_opens_total",
		Help: "Cumulative number of times the store file was opened and migrated.",
	})
	migrationsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piecework_store_migrations_applied_total",
		Help: "Cumulative number of schema migration steps committed.",
	})
	compoundWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "piecework_store_compound_writes_total",
		Help: "Cumulative number of record-with-details writes, by operation and result.",
	}, []string{"op", "result"})
	liveEvaluationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "piecework_store_live_evaluations_total",
		Help: "Cumulative number of live query evaluations.",
	})
)
