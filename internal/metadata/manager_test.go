package metadata

import (
	"testing"

	"github.com/cockroachdb/pebble"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/logging"
	"github.com/kestrelmq/kestrel/internal/storage"
)

func testEnv(t *testing.T) (*pebble.DB, string, *logging.Logger) {
	t.Helper()

	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatalf("open pebble failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger, err := logging.New(logging.Config{Level: logging.LevelError})
	if err != nil {
		t.Fatalf("create logger failed: %v", err)
	}

	return db, t.TempDir(), logger
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	db, dataDir, logger := testEnv(t)
	m, err := NewManager(db, dataDir, nil, logger)
	if err != nil {
		t.Fatalf("create manager failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateTopicAndGet(t *testing.T) {
	m := testManager(t)

	created, err := m.CreateTopic("orders", &TopicConfig{Partitions: 3})
	if err != nil {
		t.Fatalf("create topic failed: %v", err)
	}
	if len(created.Partitions) != 3 {
		t.Errorf("expected 3 partitions, got %d", len(created.Partitions))
	}

	topic, ok := m.GetTopic("orders")
	if !ok || topic.Config.Partitions != 3 {
		t.Errorf("get topic returned %+v (ok=%v)", topic, ok)
	}

	count, err := m.PartitionCount("orders")
	if err != nil || count != 3 {
		t.Errorf("expected partition count 3, got %d (%v)", count, err)
	}
}

func TestCreateTopicDuplicate(t *testing.T) {
	m := testManager(t)

	if _, err := m.CreateTopic("orders", &TopicConfig{Partitions: 1}); err != nil {
		t.Fatalf("create topic failed: %v", err)
	}

	_, err := m.CreateTopic("orders", &TopicConfig{Partitions: 2})
	if typederrors.GetErrorType(err) != typederrors.TopicAlreadyExistsError {
		t.Fatalf("expected TopicAlreadyExists, got %v", err)
	}
}

func TestCreateTopicRejectsInvalid(t *testing.T) {
	m := testManager(t)

	if _, err := m.CreateTopic("", &TopicConfig{Partitions: 1}); err == nil {
		t.Error("empty topic name should be rejected")
	}
	if _, err := m.CreateTopic("orders", &TopicConfig{Partitions: 0}); err == nil {
		t.Error("zero partitions should be rejected")
	}
}

func TestGetPartitionErrors(t *testing.T) {
	m := testManager(t)

	_, err := m.GetPartition("ghost", 0)
	if typederrors.GetErrorType(err) != typederrors.UnknownTopicError {
		t.Fatalf("expected UnknownTopic, got %v", err)
	}

	if _, err := m.CreateTopic("orders", &TopicConfig{Partitions: 2}); err != nil {
		t.Fatalf("create topic failed: %v", err)
	}

	_, err = m.GetPartition("orders", 7)
	if typederrors.GetErrorType(err) != typederrors.UnknownPartitionError {
		t.Fatalf("expected UnknownPartition, got %v", err)
	}
}

func TestDeleteTopicRemovesData(t *testing.T) {
	m := testManager(t)

	if _, err := m.CreateTopic("orders", &TopicConfig{Partitions: 1}); err != nil {
		t.Fatalf("create topic failed: %v", err)
	}
	partition, err := m.GetPartition("orders", 0)
	if err != nil {
		t.Fatalf("get partition failed: %v", err)
	}
	if _, err := partition.Append(&storage.Record{Value: []byte("x"), Timestamp: 1}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := m.DeleteTopic("orders"); err != nil {
		t.Fatalf("delete topic failed: %v", err)
	}

	if _, ok := m.GetTopic("orders"); ok {
		t.Error("deleted topic should be gone")
	}
	if err := m.DeleteTopic("orders"); typederrors.GetErrorType(err) != typederrors.UnknownTopicError {
		t.Errorf("second delete should report UnknownTopic, got %v", err)
	}
}

func TestTopicPartitionsSkipsUnknown(t *testing.T) {
	m := testManager(t)

	if _, err := m.CreateTopic("orders", &TopicConfig{Partitions: 2}); err != nil {
		t.Fatalf("create topic failed: %v", err)
	}

	result := m.TopicPartitions([]string{"orders", "ghost"})
	if len(result) != 1 {
		t.Fatalf("expected only known topics, got %v", result)
	}
	if len(result["orders"]) != 2 {
		t.Errorf("expected partitions [0 1], got %v", result["orders"])
	}
}

func TestManagerRestoresTopicsOnReopen(t *testing.T) {
	db, dataDir, logger := testEnv(t)

	m, err := NewManager(db, dataDir, nil, logger)
	if err != nil {
		t.Fatalf("create manager failed: %v", err)
	}
	if _, err := m.CreateTopic("orders", &TopicConfig{Partitions: 2}); err != nil {
		t.Fatalf("create topic failed: %v", err)
	}

	partition, err := m.GetPartition("orders", 1)
	if err != nil {
		t.Fatalf("get partition failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := partition.Append(&storage.Record{Value: []byte("x"), Timestamp: 1}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewManager(db, dataDir, nil, logger)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	topic, ok := reopened.GetTopic("orders")
	if !ok || topic.Config.Partitions != 2 {
		t.Fatalf("topic not restored: %+v (ok=%v)", topic, ok)
	}
	restored, err := reopened.GetPartition("orders", 1)
	if err != nil {
		t.Fatalf("get restored partition failed: %v", err)
	}
	if restored.HighWatermark() != 3 {
		t.Errorf("expected high watermark 3 after restore, got %d", restored.HighWatermark())
	}
}
