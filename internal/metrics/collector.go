package metrics

import (
	"context"
	"time"
)

// StoreStats is implemented by the document state store.
type StoreStats interface {
	Counts() (total, active, failed int)
}

// QueueStats is implemented by the upload queue.
type QueueStats interface {
	Depth() int
}

// Collector periodically samples store and queue gauges.
type Collector struct {
	metrics *Metrics
	store   StoreStats
	queue   QueueStats
}

// NewCollector creates a new metrics collector. Either source may be nil.
func NewCollector(m *Metrics, store StoreStats, queue QueueStats) *Collector {
	return &Collector{
		metrics: m,
		store:   store,
		queue:   queue,
	}
}

// Collect updates all gauges from the current state.
func (c *Collector) Collect() {
	c.collectStoreStats()
	c.collectQueueStats()
}

func (c *Collector) collectStoreStats() {
	if c.store == nil {
		return
	}

	total, active, failed := c.store.Counts()
	c.metrics.RecordsTotal.Set(float64(total))
	c.metrics.RecordsActive.Set(float64(active))
	c.metrics.RecordsFailed.Set(float64(failed))
}

func (c *Collector) collectQueueStats() {
	if c.queue == nil {
		return
	}

	c.metrics.UploadQueueDepth.Set(float64(c.queue.Depth()))
}

// Run starts periodic metric collection.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
