package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JonMunkholm/palaystore/internal/core"
)

var (
	// operationsTotal counts store operations.
	// Labels: op (load, save, replace, rewrite, add, update, delete), list, result
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "palaystore",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Store operations by type, list and result",
	}, []string{"op", "list", "result"})

	// operationDuration measures wall time of store operations, lock wait
	// included.
	// Labels: op
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "palaystore",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Store operation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"})

	// sectionRecords tracks the record count per section as of the last
	// successful load or save.
	// Labels: section
	sectionRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "palaystore",
		Subsystem: "store",
		Name:      "section_records",
		Help:      "Records per section at last load or save",
	}, []string{"section"})
)

// observe records one finished operation.
func observe(op, list string, start time.Time, err error) {
	operationsTotal.WithLabelValues(op, list, resultLabel(err)).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrInvalidItem), errors.Is(err, core.ErrInvalidAction):
		return "invalid"
	case errors.Is(err, core.ErrCorruptFile):
		return "corrupt"
	default:
		return "error"
	}
}

// recordSizes updates the per-section gauge.
func recordSizes(ds *core.Dataset) {
	for name, recs := range ds.Lists {
		sectionRecords.WithLabelValues(name).Set(float64(len(recs)))
	}
	for name, values := range ds.Maps {
		sectionRecords.WithLabelValues(name).Set(float64(len(values)))
	}
}
