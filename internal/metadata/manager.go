package metadata

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/logging"
	"github.com/kestrelmq/kestrel/internal/storage"
)

const topicKeyPrefix = "topic/"

// Manager is the topic registry. Topic descriptors are persisted in the
// broker's pebble store so topics survive restart; partition data lives in
// per-partition segment directories under dataDir.
type Manager struct {
	mu       sync.RWMutex
	topics   map[string]*Topic
	db       *pebble.DB
	dataDir  string
	defaults *storage.PartitionConfig
	logger   *logging.Logger
}

// NewManager opens the registry and re-opens partitions for every persisted
// topic.
func NewManager(db *pebble.DB, dataDir string, defaults *storage.PartitionConfig, logger *logging.Logger) (*Manager, error) {
	if defaults == nil {
		defaults = storage.DefaultPartitionConfig()
	}

	m := &Manager{
		topics:   make(map[string]*Topic),
		db:       db,
		dataDir:  dataDir,
		defaults: defaults,
		logger:   logger.WithComponent("metadata"),
	}

	if err := m.loadTopics(); err != nil {
		return nil, err
	}

	return m, nil
}

// loadTopics restores persisted topic descriptors and opens their partitions.
func (m *Manager) loadTopics() error {
	iter := m.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(topicKeyPrefix),
		UpperBound: []byte(topicKeyPrefix + "\xff"),
	})
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var topic Topic
		if err := json.Unmarshal(iter.Value(), &topic); err != nil {
			return fmt.Errorf("failed to decode topic descriptor %q: %v", iter.Key(), err)
		}

		if err := m.openPartitions(&topic); err != nil {
			return err
		}
		m.topics[topic.Name] = &topic
		m.logger.Info("Restored topic", "topic", topic.Name, "partitions", topic.Config.Partitions)
	}

	return iter.Error()
}

func (m *Manager) openPartitions(topic *Topic) error {
	topic.Partitions = make(map[int32]*storage.Partition, topic.Config.Partitions)
	cfg := topic.partitionConfig(m.defaults)
	for id := int32(0); id < topic.Config.Partitions; id++ {
		dir := filepath.Join(m.dataDir, "topics", fmt.Sprintf("%s-%d", topic.Name, id))
		partition, err := storage.NewPartition(topic.Name, id, dir, cfg)
		if err != nil {
			return err
		}
		topic.Partitions[id] = partition
	}
	return nil
}

// CreateTopic registers a topic with the given partition count, persists the
// descriptor, and creates the partition directories.
func (m *Manager) CreateTopic(name string, config *TopicConfig) (*Topic, error) {
	if name == "" {
		return nil, typederrors.NewTypedError(typederrors.GeneralError,
			"topic name must not be empty", nil)
	}
	if config == nil || config.Partitions <= 0 {
		return nil, typederrors.NewTypedError(typederrors.GeneralError,
			"topic needs at least one partition", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.topics[name]; exists {
		return nil, typederrors.NewTypedError(typederrors.TopicAlreadyExistsError,
			fmt.Sprintf("topic %q already exists", name), nil)
	}

	topic := &Topic{
		Name:      name,
		Config:    *config,
		CreatedAt: time.Now(),
	}

	if err := m.openPartitions(topic); err != nil {
		return nil, typederrors.NewTypedError(typederrors.StorageError,
			"failed to create partitions", err)
	}

	if err := m.persistTopic(topic); err != nil {
		for _, partition := range topic.Partitions {
			partition.Destroy()
		}
		return nil, err
	}

	m.topics[name] = topic
	m.logger.Info("Created topic", "topic", name, "partitions", config.Partitions)
	return topic, nil
}

func (m *Manager) persistTopic(topic *Topic) error {
	data, err := json.Marshal(topic)
	if err != nil {
		return typederrors.NewTypedError(typederrors.StorageError,
			"failed to encode topic descriptor", err)
	}
	if err := m.db.Set([]byte(topicKeyPrefix+topic.Name), data, pebble.Sync); err != nil {
		return typederrors.NewTypedError(typederrors.StorageError,
			"failed to persist topic descriptor", err)
	}
	return nil
}

// DeleteTopic removes the topic, its descriptor, and all partition data.
func (m *Manager) DeleteTopic(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	topic, exists := m.topics[name]
	if !exists {
		return typederrors.NewTypedError(typederrors.UnknownTopicError,
			fmt.Sprintf("topic %q not found", name), nil)
	}

	if err := m.db.Delete([]byte(topicKeyPrefix+name), pebble.Sync); err != nil {
		return typederrors.NewTypedError(typederrors.StorageError,
			"failed to delete topic descriptor", err)
	}

	for _, partition := range topic.Partitions {
		if err := partition.Destroy(); err != nil {
			m.logger.Warn("Failed to destroy partition", "topic", name, "error", err)
		}
	}

	delete(m.topics, name)
	m.logger.Info("Deleted topic", "topic", name)
	return nil
}

// GetTopic returns the topic if it exists.
func (m *Manager) GetTopic(name string) (*Topic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topic, exists := m.topics[name]
	return topic, exists
}

// GetPartition resolves (topic, partition) to the owning Partition.
func (m *Manager) GetPartition(topic string, partition int32) (*storage.Partition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.topics[topic]
	if !exists {
		return nil, typederrors.NewTypedError(typederrors.UnknownTopicError,
			fmt.Sprintf("topic %q not found", topic), nil).WithTopic(topic, partition)
	}
	p, exists := t.Partitions[partition]
	if !exists {
		return nil, typederrors.NewTypedError(typederrors.UnknownPartitionError,
			fmt.Sprintf("partition %d not found", partition), nil).WithTopic(topic, partition)
	}
	return p, nil
}

// PartitionCount returns the partition count for a topic.
func (m *Manager) PartitionCount(topic string) (int32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.topics[topic]
	if !exists {
		return 0, typederrors.NewTypedError(typederrors.UnknownTopicError,
			fmt.Sprintf("topic %q not found", topic), nil).WithTopic(topic, -1)
	}
	return t.Config.Partitions, nil
}

// TopicPartitions maps each known subscribed topic to its partition IDs.
// Unknown topics are skipped; assignment simply has nothing to hand out for
// them.
func (m *Manager) TopicPartitions(topics []string) map[string][]int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]int32, len(topics))
	for _, name := range topics {
		if topic, exists := m.topics[name]; exists {
			result[name] = topic.PartitionIDs()
		}
	}
	return result
}

// ListTopics returns descriptions of all topics.
func (m *Manager) ListTopics() []TopicInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]TopicInfo, 0, len(m.topics))
	for _, topic := range m.topics {
		infos = append(infos, TopicInfo{
			Name:       topic.Name,
			Partitions: topic.Config.Partitions,
			CreatedAt:  topic.CreatedAt,
		})
	}
	return infos
}

// AllPartitions returns every live partition, for the retention sweeper.
func (m *Manager) AllPartitions() []*storage.Partition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var partitions []*storage.Partition
	for _, topic := range m.topics {
		for _, partition := range topic.Partitions {
			partitions = append(partitions, partition)
		}
	}
	return partitions
}

// Close closes all partitions. The pebble store is owned by the broker.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, topic := range m.topics {
		for _, partition := range topic.Partitions {
			if err := partition.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
