package metadata

import (
	"time"

	"github.com/kestrelmq/kestrel/internal/storage"
)

// TopicConfig carries per-topic overrides for partition count and retention.
// Zero values fall back to the broker defaults.
type TopicConfig struct {
	Partitions     int32         `json:"partitions"`
	MaxSegmentSize int64         `json:"max_segment_size,omitempty"`
	MaxSegmentAge  time.Duration `json:"max_segment_age,omitempty"`
	RetentionTime  time.Duration `json:"retention_time,omitempty"`
	RetentionSize  int64         `json:"retention_size,omitempty"`
}

// Topic is a named collection of partitions, the unit of logical addressing
// for producers and consumers.
type Topic struct {
	Name       string                       `json:"name"`
	Config     TopicConfig                  `json:"config"`
	CreatedAt  time.Time                    `json:"created_at"`
	Partitions map[int32]*storage.Partition `json:"-"`
}

// TopicInfo is the read-only description returned to clients.
type TopicInfo struct {
	Name       string
	Partitions int32
	CreatedAt  time.Time
}

// PartitionIDs returns the topic's partition IDs in ascending order.
func (t *Topic) PartitionIDs() []int32 {
	ids := make([]int32, 0, len(t.Partitions))
	for i := int32(0); i < t.Config.Partitions; i++ {
		ids = append(ids, i)
	}
	return ids
}

// partitionConfig merges topic overrides onto the broker defaults.
func (t *Topic) partitionConfig(defaults *storage.PartitionConfig) *storage.PartitionConfig {
	cfg := *defaults
	if t.Config.MaxSegmentSize > 0 {
		cfg.MaxSegmentSize = t.Config.MaxSegmentSize
	}
	if t.Config.MaxSegmentAge > 0 {
		cfg.MaxSegmentAge = t.Config.MaxSegmentAge
	}
	if t.Config.RetentionTime > 0 {
		cfg.RetentionTime = t.Config.RetentionTime
	}
	if t.Config.RetentionSize > 0 {
		cfg.RetentionSize = t.Config.RetentionSize
	}
	return &cfg
}
