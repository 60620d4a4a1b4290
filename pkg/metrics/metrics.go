// Package metrics exposes live performance counter values as Prometheus
// metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Reader is the read surface of a counter, satisfied by *pmc.Counter.
type Reader interface {
	Read() (uint64, error)
}

// Collector implements prometheus.Collector over a set of named counters.
// Each scrape reads every tracked counter and reports the accumulated
// count labeled by event name; counters that fail to read are skipped for
// that scrape.
type Collector struct {
	desc *prometheus.Desc

	mu      sync.Mutex
	readers map[string]Reader
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName("pmc", "", "event_count"),
			"Accumulated hardware performance counter value.",
			[]string{"event"},
			nil,
		),
		readers: make(map[string]Reader),
	}
}

// Track registers a counter under the given event name, replacing any
// previous counter with the same name.
func (c *Collector) Track(name string, r Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readers[name] = r
}

// Forget removes a tracked counter. Call this before releasing a counter,
// otherwise scrapes observe read failures until it is removed.
func (c *Collector) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.readers, name)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, r := range c.readers {
		value, err := r.Read()
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			c.desc, prometheus.CounterValue, float64(value), name)
	}
}
