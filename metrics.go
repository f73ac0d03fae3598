package quillsql

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/quillsql/quillsql/internal/dberrors"
)

// metrics is the Prometheus instrumentation surface for a DB: counts of
// statements executed, broken down by outcome, so an operator can alert
// on a rising deadlock or write-conflict rate the way they would for
// any other embedded store.
type metrics struct {
	statements *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) (*metrics, error) {
	m := &metrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quillsql",
			Name:      "statements_total",
			Help:      "Statements executed, labeled by outcome (ok/error).",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quillsql",
			Name:      "errors_total",
			Help:      "Statement errors, labeled by dberrors.Kind.",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if err := reg.Register(m.statements); err != nil {
		return nil, err
	}
	if err := reg.Register(m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) observe(_ string, err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.statements.WithLabelValues("ok").Inc()
		return
	}
	m.statements.WithLabelValues("error").Inc()
	if dbErr, ok := err.(*dberrors.Error); ok {
		m.errors.WithLabelValues(dbErr.Kind.String()).Inc()
		return
	}
	m.errors.WithLabelValues("unknown").Inc()
}
