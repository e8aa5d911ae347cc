// Package metrics exports routing statistics of a multidb.Dispatcher to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ice-blockchain/go-multidb"
)

const metricsNamespace = "multidb"

// Collector is a prometheus.Collector and a multidb.Stats sink.
type Collector struct {
	queries        *prometheus.CounterVec
	lag            *prometheus.GaugeVec
	notReplicating *prometheus.GaugeVec
}

var _ multidb.Stats = (*Collector)(nil)

// NewCollector returns a new Collector. It is registered with reg unless
// reg is nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "queries_total",
				Help:      "The number of dispatched operations by target connection.",
			}, []string{"operation", "target"},
		),
		lag: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "replication_lag_seconds",
				Help:      "The last probed replication lag of a replica.",
			}, []string{"replica"},
		),
		notReplicating: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "replica_not_replicating",
				Help:      "1 if the last probe found replication stopped.",
			}, []string{"replica"},
		),
	}
	if reg != nil {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Query is part of the multidb.Stats interface.
func (c *Collector) Query(operation, target string) {
	c.queries.WithLabelValues(operation, target).Inc()
}

// Lag is part of the multidb.Stats interface. The lag gauge keeps its
// previous value while a replica is not replicating.
func (c *Collector) Lag(replica string, lag multidb.Lag) {
	if lag == multidb.NotReplicating {
		c.notReplicating.WithLabelValues(replica).Set(1)
		return
	}
	c.notReplicating.WithLabelValues(replica).Set(0)
	c.lag.WithLabelValues(replica).Set(float64(lag))
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.queries.Describe(ch)
	c.lag.Describe(ch)
	c.notReplicating.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.queries.Collect(ch)
	c.lag.Collect(ch)
	c.notReplicating.Collect(ch)
}
