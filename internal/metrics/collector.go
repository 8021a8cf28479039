package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/lastvalue/internal/engine"
)

const namespace = "lastvalue"

// StoreStats reports the current store size and version.
type StoreStats interface {
	Len() int
	Version() uint64
}

// Collector turns engine events into Prometheus metrics.
type Collector struct {
	batches   *prometheus.CounterVec
	uploaded  prometheus.Counter
	merged    *prometheus.CounterVec
	rejection *prometheus.CounterVec
}

// NewCollector creates the collector and registers its metrics with reg. If
// store is non-nil, instrument count and version gauges read from it at scrape time.
func NewCollector(reg prometheus.Registerer, store StoreStats) *Collector {
	c := &Collector{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Accepted batch lifecycle events.",
		}, []string{"event"}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_uploaded_total",
			Help:      "Observations accepted into started batches.",
		}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_merged_total",
			Help:      "Observations processed at commit, by outcome.",
		}, []string{"result"}),
		rejection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Producer calls refused by the batch registry.",
		}, []string{"op", "kind"}),
	}

	reg.MustRegister(c.batches, c.uploaded, c.merged, c.rejection)

	if store != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instruments",
				Help:      "Instruments with a stored price.",
			}, func() float64 { return float64(store.Len()) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_version",
				Help:      "Number of commits that changed the store.",
			}, func() float64 { return float64(store.Version()) }),
		)
	}

	return c
}

// OnEvent implements engine.Observer.
func (c *Collector) OnEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EventRejected:
		c.rejection.WithLabelValues(string(ev.Op), ev.Kind.String()).Inc()
		return
	case engine.EventUploaded:
		c.uploaded.Add(float64(ev.Records))
	case engine.EventCompleted:
		c.merged.WithLabelValues("applied").Add(float64(len(ev.Applied)))
		c.merged.WithLabelValues("discarded").Add(float64(ev.Discarded))
	}
	c.batches.WithLabelValues(string(ev.Type)).Inc()
}
