package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/logging"
)

// PartitionConfig contains storage configuration for a partition
type PartitionConfig struct {
	MaxSegmentSize int64         // rotation threshold by size
	MaxSegmentAge  time.Duration // rotation threshold by age of the active segment
	RetentionTime  time.Duration // how long sealed segments are kept
	RetentionSize  int64         // total size cap across segments
}

// DefaultPartitionConfig mirrors the broker defaults.
func DefaultPartitionConfig() *PartitionConfig {
	return &PartitionConfig{
		MaxSegmentSize: 64 << 20,
		MaxSegmentAge:  time.Hour,
		RetentionTime:  7 * 24 * time.Hour,
		RetentionSize:  1 << 30,
	}
}

// Partition owns an ordered list of segments and assigns contiguous offsets
// starting at zero. Appends are serialized through a single writer lock;
// reads run against a copy-on-write snapshot of the segment list so they
// never block appends or races with the retention sweep.
type Partition struct {
	Topic  string
	ID     int32
	Config *PartitionConfig

	appendMu sync.Mutex // single-writer invariant for offset assignment

	// stateMu guards the segment list and watermarks. The list itself is
	// never mutated in place: rotation and retention build a new slice and
	// swap it, so a reader's snapshot stays internally consistent.
	stateMu       sync.RWMutex
	segments      []*Segment
	active        *Segment
	nextOffset    int64
	highWatermark int64
	corruptedAt   int64 // first known-corrupt offset, -1 when clean
	closed        bool

	dataDir string
	logger  *logging.Logger
}

// NewPartition opens a partition at dataDir, loading existing segments.
func NewPartition(topic string, id int32, dataDir string, config *PartitionConfig) (*Partition, error) {
	if config == nil {
		config = DefaultPartitionConfig()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, typederrors.NewTypedError(typederrors.StorageError,
			"failed to create partition directory", err).WithTopic(topic, id)
	}

	p := &Partition{
		Topic:       topic,
		ID:          id,
		Config:      config,
		dataDir:     dataDir,
		corruptedAt: -1,
		logger:      logging.GetLogger().WithPartition(topic, id),
	}

	if err := p.loadSegments(); err != nil {
		return nil, typederrors.NewTypedError(typederrors.StorageError,
			"failed to load segments", err).WithTopic(topic, id)
	}

	if len(p.segments) == 0 {
		if err := p.createSegment(0); err != nil {
			return nil, typederrors.NewTypedError(typederrors.StorageError,
				"failed to create initial segment", err).WithTopic(topic, id)
		}
	}

	p.logger.Debug("Partition opened", "segments", len(p.segments), "next_offset", p.nextOffset)
	return p, nil
}

// loadSegments restores the segment list from disk, sealing all but the
// newest so exactly one segment stays writable.
func (p *Partition) loadSegments() error {
	files, err := os.ReadDir(p.dataDir)
	if err != nil {
		return err
	}

	var baseOffsets []int64
	for _, file := range files {
		if filepath.Ext(file.Name()) == ".log" {
			var baseOffset int64
			if n, err := fmt.Sscanf(file.Name(), "%020d.log", &baseOffset); n == 1 && err == nil {
				baseOffsets = append(baseOffsets, baseOffset)
			}
		}
	}

	sort.Slice(baseOffsets, func(i, j int) bool {
		return baseOffsets[i] < baseOffsets[j]
	})

	for _, baseOffset := range baseOffsets {
		segment, err := NewSegment(p.dataDir, baseOffset, p.Config.MaxSegmentSize)
		if err != nil {
			return fmt.Errorf("load segment at offset %d: %v", baseOffset, err)
		}
		p.segments = append(p.segments, segment)
	}

	if len(p.segments) > 0 {
		for _, segment := range p.segments[:len(p.segments)-1] {
			if err := segment.Seal(); err != nil {
				return err
			}
		}
		p.active = p.segments[len(p.segments)-1]
		p.nextOffset = p.active.NextOffset()
		p.highWatermark = p.nextOffset
	}

	return nil
}

// createSegment seals the current active segment and installs a new one at
// baseOffset. Callers hold appendMu (or run single-threaded setup).
func (p *Partition) createSegment(baseOffset int64) error {
	segment, err := NewSegment(p.dataDir, baseOffset, p.Config.MaxSegmentSize)
	if err != nil {
		return err
	}

	p.stateMu.RLock()
	active := p.active
	p.stateMu.RUnlock()

	// appendMu already serializes rotation; sealing outside stateMu keeps
	// the critical section down to the list swap.
	if active != nil {
		if err := active.Seal(); err != nil {
			segment.Close()
			return err
		}
	}

	p.stateMu.Lock()
	newList := make([]*Segment, 0, len(p.segments)+1)
	newList = append(newList, p.segments...)
	newList = append(newList, segment)
	p.segments = newList
	p.active = segment
	p.stateMu.Unlock()

	p.logger.Debug("Rolled segment", "base_offset", baseOffset)
	return nil
}

// Append assigns the next offset to the record and writes it to the active
// segment, rotating first when the segment is over its size or age limit.
// Rotation happens synchronously inside the append lock, so at most one
// unsealed segment exists at any time.
func (p *Partition) Append(record *Record) (int64, error) {
	p.appendMu.Lock()
	defer p.appendMu.Unlock()

	p.stateMu.RLock()
	closed := p.closed
	active := p.active
	p.stateMu.RUnlock()

	if closed {
		return 0, typederrors.NewTypedError(typederrors.UnavailableError,
			"partition is closed", nil).WithTopic(p.Topic, p.ID)
	}

	data := record.Marshal()

	if p.shouldRotate(active, int64(len(data))) {
		if err := p.createSegment(p.nextOffset); err != nil {
			return 0, typederrors.NewTypedError(typederrors.StorageError,
				"failed to roll segment", err).WithTopic(p.Topic, p.ID)
		}
		p.stateMu.RLock()
		active = p.active
		p.stateMu.RUnlock()
	}

	offset, err := active.Append(data, record.Timestamp)
	if err != nil {
		return 0, typederrors.NewTypedError(typederrors.StorageError,
			"failed to append record", err).WithTopic(p.Topic, p.ID)
	}

	p.stateMu.Lock()
	p.nextOffset = offset + 1
	p.highWatermark = p.nextOffset // single broker: no replication lag
	p.stateMu.Unlock()

	return offset, nil
}

// shouldRotate applies the rotation policy: a pure function of active
// segment size and age against the configured limits.
func (p *Partition) shouldRotate(active *Segment, incoming int64) bool {
	if active == nil {
		return true
	}
	size := active.Size()
	if size > 0 && size+incoming+4 > p.Config.MaxSegmentSize {
		return true
	}
	if p.Config.MaxSegmentAge > 0 && size > 0 &&
		time.Since(active.CreatedAt) > p.Config.MaxSegmentAge {
		return true
	}
	return false
}

// snapshot returns the current segment list and watermarks. The returned
// slice is never mutated afterwards, only replaced.
func (p *Partition) snapshot() ([]*Segment, int64, int64, bool) {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.segments, p.highWatermark, p.corruptedAt, p.closed
}

// Read returns records starting at startOffset, up to maxBytes, plus the
// offset to resume from. startOffset equal to the high watermark yields an
// empty batch; beyond it, or before the earliest retained offset, the read
// fails with OffsetOutOfRange.
func (p *Partition) Read(startOffset int64, maxBytes int32) ([]*Record, int64, error) {
	segments, highWatermark, corruptedAt, closed := p.snapshot()

	if closed {
		return nil, startOffset, typederrors.NewTypedError(typederrors.UnavailableError,
			"partition is closed", nil).WithTopic(p.Topic, p.ID)
	}

	if startOffset > highWatermark {
		return nil, startOffset, typederrors.NewTypedError(typederrors.OffsetOutOfRangeError,
			fmt.Sprintf("offset beyond high watermark %d", highWatermark), nil).
			WithTopic(p.Topic, p.ID).WithOffset(startOffset)
	}
	if len(segments) > 0 && startOffset < segments[0].BaseOffset {
		return nil, startOffset, typederrors.NewTypedError(typederrors.OffsetOutOfRangeError,
			fmt.Sprintf("offset before earliest retained offset %d", segments[0].BaseOffset), nil).
			WithTopic(p.Topic, p.ID).WithOffset(startOffset)
	}
	if corruptedAt >= 0 {
		if startOffset >= corruptedAt {
			return nil, startOffset, typederrors.NewTypedError(typederrors.DataCorruptionError,
				"partition unavailable beyond corruption point", nil).
				WithTopic(p.Topic, p.ID).WithOffset(corruptedAt - 1)
		}
		// Reads below the corruption point keep working.
		if highWatermark > corruptedAt {
			highWatermark = corruptedAt
		}
	}
	if startOffset == highWatermark {
		return nil, highWatermark, nil
	}

	var records []*Record
	current := startOffset
	var totalBytes int32

	for _, segment := range segments {
		if current >= highWatermark || totalBytes >= maxBytes {
			break
		}
		if current >= segment.NextOffset() || current < segment.BaseOffset {
			continue
		}

		if !segment.Acquire() {
			// Retention won the race for this segment after we snapshotted.
			return nil, startOffset, typederrors.NewTypedError(typederrors.OffsetOutOfRangeError,
				"offset no longer retained", nil).
				WithTopic(p.Topic, p.ID).WithOffset(startOffset)
		}

		batch, next, err := p.readSegment(segment, current, highWatermark, maxBytes, &totalBytes)
		segment.Release()
		if err != nil {
			return records, current, err
		}
		records = append(records, batch...)
		current = next
	}

	return records, current, nil
}

// readSegment reads records [from, until) out of one pinned segment.
func (p *Partition) readSegment(segment *Segment, from, until int64, maxBytes int32, totalBytes *int32) ([]*Record, int64, error) {
	pos, err := segment.FindPosition(from)
	if err != nil {
		return nil, from, typederrors.NewTypedError(typederrors.StorageError,
			"failed to locate offset", err).WithTopic(p.Topic, p.ID).WithOffset(from)
	}

	var records []*Record
	current := from
	end := segment.NextOffset()
	if end > until {
		end = until
	}

	for current < end && *totalBytes < maxBytes {
		payload, nextPos, err := segment.ReadRecordAt(pos)
		if err != nil {
			if err == ErrChecksumMismatch {
				return records, current, p.markCorrupted(current)
			}
			return records, current, typederrors.NewTypedError(typederrors.StorageError,
				"failed to read record", err).WithTopic(p.Topic, p.ID).WithOffset(current)
		}

		record, err := UnmarshalRecord(payload)
		if err != nil {
			if err == ErrChecksumMismatch {
				return records, current, p.markCorrupted(current)
			}
			return records, current, typederrors.NewTypedError(typederrors.StorageError,
				"failed to decode record", err).WithTopic(p.Topic, p.ID).WithOffset(current)
		}

		records = append(records, record)
		*totalBytes += int32(len(payload))
		pos = nextPos
		current++
	}

	return records, current, nil
}

// markCorrupted records the first corrupt offset and surfaces DataCorruption
// carrying the last known-good offset. Reads before the corruption point
// keep working; the process stays up.
func (p *Partition) markCorrupted(offset int64) error {
	p.stateMu.Lock()
	if p.corruptedAt < 0 || offset < p.corruptedAt {
		p.corruptedAt = offset
	}
	p.stateMu.Unlock()

	p.logger.Error("Corrupted record detected", "offset", offset)
	return typederrors.NewTypedError(typederrors.DataCorruptionError,
		"corrupted record detected", nil).
		WithTopic(p.Topic, p.ID).WithOffset(offset - 1)
}

// HighWatermark returns the offset boundary visible to consumers.
func (p *Partition) HighWatermark() int64 {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.highWatermark
}

// LowWatermark returns the earliest retained offset.
func (p *Partition) LowWatermark() int64 {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if len(p.segments) == 0 {
		return 0
	}
	return p.segments[0].BaseOffset
}

// SegmentCount returns the number of live segments.
func (p *Partition) SegmentCount() int {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return len(p.segments)
}

// Cleanup applies the retention policy: sealed segments wholly older than
// the retention window, or past the size cap (oldest first), are swapped out
// of the list and deleted once no in-flight read still pins them. Both
// passes trim only a prefix of the segment list, so the retained offsets
// stay contiguous. The active segment is never deleted.
func (p *Partition) Cleanup() (int, error) {
	p.stateMu.Lock()

	if p.closed {
		p.stateMu.Unlock()
		return 0, typederrors.NewTypedError(typederrors.UnavailableError,
			"partition is closed", nil).WithTopic(p.Topic, p.ID)
	}

	nowMillis := time.Now().UnixMilli()
	var totalSize int64
	for _, segment := range p.segments {
		totalSize += segment.Size()
	}

	removable := make(map[*Segment]bool)
	if p.Config.RetentionTime > 0 {
		// Timestamps are producer-supplied and need not be monotonic, so
		// expiry stops at the first segment still inside the window instead
		// of punching holes in the middle of the log.
		for _, segment := range p.segments {
			if segment == p.active || !segment.Sealed() {
				break
			}
			if segment.MaxTimestamp() <= 0 ||
				nowMillis-segment.MaxTimestamp() <= p.Config.RetentionTime.Milliseconds() {
				break
			}
			removable[segment] = true
		}
	}
	if p.Config.RetentionSize > 0 {
		for _, segment := range p.segments {
			if totalSize <= p.Config.RetentionSize {
				break
			}
			if segment == p.active || !segment.Sealed() {
				continue
			}
			if !removable[segment] {
				removable[segment] = true
			}
			totalSize -= segment.Size()
		}
	}

	if len(removable) == 0 {
		p.stateMu.Unlock()
		return 0, nil
	}

	newList := make([]*Segment, 0, len(p.segments)-len(removable))
	var removed []*Segment
	for _, segment := range p.segments {
		if removable[segment] {
			removed = append(removed, segment)
		} else {
			newList = append(newList, segment)
		}
	}
	p.segments = newList
	p.stateMu.Unlock()

	// Deletion happens outside the lock; pinned segments linger until the
	// last reader releases them.
	for _, segment := range removed {
		segment.Remove()
		p.logger.Info("Removed segment", "base_offset", segment.BaseOffset)
	}

	return len(removed), nil
}

// Sync flushes every live segment to disk.
func (p *Partition) Sync() error {
	segments, _, _, closed := p.snapshot()
	if closed {
		return typederrors.NewTypedError(typederrors.UnavailableError,
			"partition is closed", nil).WithTopic(p.Topic, p.ID)
	}

	for _, segment := range segments {
		if err := segment.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close seals off the partition and closes all segments.
func (p *Partition) Close() error {
	p.appendMu.Lock()
	defer p.appendMu.Unlock()

	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.active = nil

	var errs []error
	for _, segment := range p.segments {
		if err := segment.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return typederrors.NewTypedError(typederrors.StorageError,
			"failed to close some segments", fmt.Errorf("%v", errs)).WithTopic(p.Topic, p.ID)
	}
	return nil
}

// Destroy closes the partition and removes its data directory. Used by
// topic deletion.
func (p *Partition) Destroy() error {
	if err := p.Close(); err != nil {
		return err
	}
	return os.RemoveAll(p.dataDir)
}
