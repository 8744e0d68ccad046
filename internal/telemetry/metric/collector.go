package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// GaugeSource reports a point-in-time value, e.g. the number of cached
// profiles.
type GaugeSource func() float64

// Collector exposes values owned by other components as gauges, read on
// every scrape.
type Collector struct {
	descs   []*prometheus.Desc
	sources []GaugeSource
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add registers a gauge read from src on every scrape.
// Add must not be called after the collector has been registered.
func (c *Collector) Add(name, help string, src GaugeSource) *Collector {
	c.descs = append(c.descs, prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", name), help, nil, nil))
	c.sources = append(c.sources, src)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for i, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, c.sources[i]())
	}
}
