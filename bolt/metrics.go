package bolt

import (
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

var _ prometheus.Collector = (*Client)(nil)

var (
	recordsDesc = prometheus.NewDesc(
		"shardkit_bolt_records_total",
		"Number of records stored in the shard, by entity type",
		[]string{"type"}, nil)

	boltWritesDesc = prometheus.NewDesc(
		"boltdb_writes_total",
		"Total number of boltdb writes",
		nil, nil)

	boltReadsDesc = prometheus.NewDesc(
		"boltdb_reads_total",
		"Total number of boltdb reads",
		nil, nil)
)

// Describe returns all descriptions of the collector.
func (c *Client) Describe(ch chan<- *prometheus.Desc) {
	ch <- recordsDesc
	ch <- boltWritesDesc
	ch <- boltReadsDesc
}

// Collect returns the current state of all metrics of the collector.
func (c *Client) Collect(ch chan<- prometheus.Metric) {
	stats := c.db.Stats()
	writes := stats.TxStats.Write
	reads := stats.TxN

	ch <- prometheus.MustNewConstMetric(
		boltReadsDesc,
		prometheus.CounterValue,
		float64(reads),
	)

	ch <- prometheus.MustNewConstMetric(
		boltWritesDesc,
		prometheus.CounterValue,
		float64(writes),
	)

	counts := map[string]int{}
	_ = c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(recordsBucket).ForEach(func(k, v []byte) error {
			// nested buckets have a nil value
			if v != nil {
				return nil
			}
			counts[string(k)] = tx.Bucket(recordsBucket).Bucket(k).Stats().KeyN
			return nil
		})
	})

	for typ, n := range counts {
		ch <- prometheus.MustNewConstMetric(
			recordsDesc,
			prometheus.GaugeValue,
			float64(n),
			typ,
		)
	}
}

// PrometheusCollectors returns the client itself.
func (c *Client) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{c}
}
