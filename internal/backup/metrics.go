package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "piecework_backup_operations_total",
	Help: "Cumulative number of store exports and imports, by operation and result.",
}, []string{"op", "result"})
