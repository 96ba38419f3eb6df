package coordinator

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
)

const offsetKeyPrefix = "offset/"

// OffsetStore durably records the last acknowledged offset per
// (group, topic, partition) in the broker's pebble store. Commits are
// synced so an acknowledged commit survives a crash.
type OffsetStore struct {
	db *pebble.DB
}

// NewOffsetStore wraps the shared pebble store.
func NewOffsetStore(db *pebble.DB) *OffsetStore {
	return &OffsetStore{db: db}
}

func offsetKey(groupID, topic string, partition int32) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%d", offsetKeyPrefix, groupID, topic, partition))
}

// Commit durably records the offset.
func (s *OffsetStore) Commit(groupID, topic string, partition int32, offset int64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(offset))

	if err := s.db.Set(offsetKey(groupID, topic, partition), value, pebble.Sync); err != nil {
		return typederrors.NewTypedError(typederrors.StorageError,
			"failed to persist committed offset", err).
			WithTopic(topic, partition).WithOffset(offset)
	}
	return nil
}

// Fetch returns the committed offset, or ok=false when the group has never
// committed for that partition.
func (s *OffsetStore) Fetch(groupID, topic string, partition int32) (int64, bool, error) {
	value, closer, err := s.db.Get(offsetKey(groupID, topic, partition))
	if err != nil {
		if err == pebble.ErrNotFound {
			return -1, false, nil
		}
		return -1, false, typederrors.NewTypedError(typederrors.StorageError,
			"failed to read committed offset", err).WithTopic(topic, partition)
	}
	defer closer.Close()

	if len(value) != 8 {
		return -1, false, typederrors.NewTypedError(typederrors.StorageError,
			fmt.Sprintf("committed offset entry has unexpected length %d", len(value)), nil).
			WithTopic(topic, partition)
	}
	return int64(binary.BigEndian.Uint64(value)), true, nil
}

// DeleteGroup removes every committed offset belonging to the group.
func (s *OffsetStore) DeleteGroup(groupID string) error {
	prefix := offsetKeyPrefix + groupID + "/"

	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	defer iter.Close()

	batch := s.db.NewBatch()
	defer batch.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		if err := batch.Delete(key, nil); err != nil {
			return typederrors.NewTypedError(typederrors.StorageError,
				"failed to stage offset deletion", err)
		}
	}
	if err := iter.Error(); err != nil {
		return typederrors.NewTypedError(typederrors.StorageError,
			"failed to scan group offsets", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return typederrors.NewTypedError(typederrors.StorageError,
			"failed to delete group offsets", err)
	}
	return nil
}
