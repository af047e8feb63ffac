package metrics

import (
	"context"
	"time"

	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/types"
)

// DefaultCollectInterval is how often record counts are refreshed
const DefaultCollectInterval = 15 * time.Second

// RecordLister is the subset of the record store the collector reads
type RecordLister interface {
	ListRecords(ctx context.Context) ([]*types.SessionRecord, error)
}

// Collector periodically publishes record counts by status
type Collector struct {
	store    RecordLister
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store RecordLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Collect refreshes SessionsTotal once. Every known status is written so a
// status that drops to zero is reported as zero rather than going stale.
func (c *Collector) Collect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.interval)
	defer cancel()

	records, err := c.store.ListRecords(ctx)
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Msg("Failed to list records for metrics")
		return
	}

	counts := map[types.SessionStatus]int{
		types.SessionStatusPending:      0,
		types.SessionStatusCreating:     0,
		types.SessionStatusWaitingQR:    0,
		types.SessionStatusReady:        0,
		types.SessionStatusDisconnected: 0,
		types.SessionStatusFailed:       0,
		types.SessionStatusDegraded:     0,
	}
	for _, rec := range records {
		counts[rec.Status]++
	}
	for status, n := range counts {
		SessionsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
