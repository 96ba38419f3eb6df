package broker

import (
	"sync"
	"time"

	"github.com/kestrelmq/kestrel/internal/logging"
	"github.com/kestrelmq/kestrel/internal/metadata"
	"github.com/kestrelmq/kestrel/internal/metrics"
)

// retentionSweeper periodically applies the retention policy to every
// partition. A failing partition is logged and retried on the next tick; one
// bad partition never stops the sweep for the rest.
type retentionSweeper struct {
	metadata *metadata.Manager
	interval time.Duration
	logger   *logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newRetentionSweeper(manager *metadata.Manager, interval time.Duration, logger *logging.Logger) *retentionSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &retentionSweeper{
		metadata: manager,
		interval: interval,
		logger:   logger.WithComponent("retention"),
		stopCh:   make(chan struct{}),
	}
}

func (s *retentionSweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *retentionSweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *retentionSweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *retentionSweeper) sweep() {
	var removed int
	for _, partition := range s.metadata.AllPartitions() {
		n, err := partition.Cleanup()
		if err != nil {
			s.logger.Warn("Retention pass failed",
				"topic", partition.Topic, "partition", partition.ID, "error", err)
			continue
		}
		removed += n
		metrics.LogSegments.WithLabelValues(partition.Topic, partitionLabel(partition.ID)).
			Set(float64(partition.SegmentCount()))
	}

	if removed > 0 {
		metrics.SegmentsDeleted.Add(float64(removed))
		s.logger.Info("Retention pass removed segments", "segments", removed)
	}
}
