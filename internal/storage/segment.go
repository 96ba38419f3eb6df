package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	IndexEntrySize = 16   // 8 bytes offset + 8 bytes position
	IndexInterval  = 4096 // one sparse index entry per 4KB of log data
)

var (
	ErrSegmentSealed    = errors.New("segment is sealed")
	ErrSegmentFull      = errors.New("segment is full")
	ErrChecksumMismatch = errors.New("record checksum mismatch")
)

// Segment is an append-only run of length-prefixed records backed by a log
// file and a sparse offset index. Only the Partition that owns the segment
// may append, and only while the segment is unsealed; sealed segments are
// immutable and eligible for retention deletion.
type Segment struct {
	BaseOffset int64
	MaxBytes   int64
	DataDir    string
	CreatedAt  time.Time

	mu           sync.RWMutex
	logFile      *os.File
	indexFile    *os.File
	index        []IndexEntry
	size         int64
	nextOffset   int64
	lastIndexed  int64 // log position covered by the newest index entry
	sealed       bool
	maxTimestamp int64 // unix millis of the newest record, drives time retention

	// Reference counting lets a retention sweep unlink a segment while
	// readers holding an older segment-list snapshot finish against the
	// still-open file handles.
	refMu   sync.Mutex
	refs    int
	removed bool
}

// IndexEntry maps a record offset to its byte position in the log file.
type IndexEntry struct {
	Offset   int64
	Position int64
}

// NewSegment opens (or creates) the segment files for baseOffset under dir
// and recovers record count, size and sparse index by scanning the log.
func NewSegment(dir string, baseOffset int64, maxBytes int64) (*Segment, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory failed: %v", err)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%020d.log", baseOffset))
	indexPath := filepath.Join(dir, fmt.Sprintf("%020d.index", baseOffset))

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file failed: %v", err)
	}

	indexFile, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("open index file failed: %v", err)
	}

	s := &Segment{
		BaseOffset: baseOffset,
		MaxBytes:   maxBytes,
		DataDir:    dir,
		CreatedAt:  time.Now(),
		logFile:    logFile,
		indexFile:  indexFile,
		nextOffset: baseOffset,
	}

	if err := s.recover(); err != nil {
		s.closeFiles()
		return nil, fmt.Errorf("recover segment failed: %v", err)
	}

	return s, nil
}

// recover walks the log's length prefixes to rebuild nextOffset, size and
// the sparse index after a restart. A trailing torn write is truncated.
func (s *Segment) recover() error {
	stat, err := s.logFile.Stat()
	if err != nil {
		return err
	}
	fileSize := stat.Size()

	var pos int64
	lenBuf := make([]byte, 4)
	for pos+4 <= fileSize {
		if _, err := s.logFile.ReadAt(lenBuf, pos); err != nil {
			return err
		}
		recLen := int64(binary.BigEndian.Uint32(lenBuf))
		if recLen == 0 || pos+4+recLen > fileSize {
			// Torn tail from an unclean shutdown; drop it.
			if err := s.logFile.Truncate(pos); err != nil {
				return err
			}
			break
		}
		s.maybeIndex(s.nextOffset, pos)
		pos += 4 + recLen
		s.nextOffset++
	}
	s.size = pos

	return nil
}

// maybeIndex appends a sparse index entry when enough bytes have accumulated
// since the last one. Caller holds the write lock (or is single-threaded
// recovery).
func (s *Segment) maybeIndex(offset, position int64) {
	if len(s.index) > 0 && position-s.lastIndexed < IndexInterval {
		return
	}

	entryBuf := make([]byte, IndexEntrySize)
	binary.BigEndian.PutUint64(entryBuf[0:8], uint64(offset))
	binary.BigEndian.PutUint64(entryBuf[8:16], uint64(position))
	s.indexFile.WriteAt(entryBuf, int64(len(s.index)*IndexEntrySize))

	s.index = append(s.index, IndexEntry{Offset: offset, Position: position})
	s.lastIndexed = position
}

// Append writes one marshaled record and returns its assigned offset.
// The owning partition serializes calls; Append itself only guards against
// misuse of a sealed or full segment.
func (s *Segment) Append(data []byte, timestamp int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return 0, ErrSegmentSealed
	}
	if s.size+int64(len(data)+4) > s.MaxBytes && s.size > 0 {
		return 0, ErrSegmentFull
	}

	offset := s.nextOffset
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	copy(buf[4:], data)

	if _, err := s.logFile.WriteAt(buf, s.size); err != nil {
		return 0, fmt.Errorf("write record failed: %v", err)
	}

	s.maybeIndex(offset, s.size)
	s.size += int64(len(buf))
	s.nextOffset++
	if timestamp > s.maxTimestamp {
		s.maxTimestamp = timestamp
	}

	return offset, nil
}

// FindPosition locates the byte position of offset: binary search over the
// sparse index for the nearest entry at or before it, then a linear scan of
// length prefixes.
func (s *Segment) FindPosition(offset int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < s.BaseOffset || offset >= s.nextOffset {
		return 0, fmt.Errorf("offset %d outside segment [%d, %d)", offset, s.BaseOffset, s.nextOffset)
	}

	startOffset := s.BaseOffset
	startPos := int64(0)

	left, right := 0, len(s.index)-1
	for left <= right {
		mid := left + (right-left)/2
		if s.index[mid].Offset <= offset {
			startOffset = s.index[mid].Offset
			startPos = s.index[mid].Position
			left = mid + 1
		} else {
			right = mid - 1
		}
	}

	pos := startPos
	lenBuf := make([]byte, 4)
	for cur := startOffset; cur < offset; cur++ {
		if _, err := s.logFile.ReadAt(lenBuf, pos); err != nil {
			return 0, fmt.Errorf("read length prefix at %d failed: %v", pos, err)
		}
		pos += 4 + int64(binary.BigEndian.Uint32(lenBuf))
	}

	return pos, nil
}

// ReadRecordAt reads the length-prefixed record payload at pos and returns
// the payload plus the position of the following record. Reading the same
// position twice yields identical bytes since appended data is immutable.
func (s *Segment) ReadRecordAt(pos int64) ([]byte, int64, error) {
	s.mu.RLock()
	size := s.size
	s.mu.RUnlock()

	if pos < 0 || pos >= size {
		return nil, 0, io.EOF
	}

	lenBuf := make([]byte, 4)
	if _, err := s.logFile.ReadAt(lenBuf, pos); err != nil {
		return nil, 0, fmt.Errorf("read length prefix failed: %v", err)
	}
	recLen := int64(binary.BigEndian.Uint32(lenBuf))
	if recLen == 0 || pos+4+recLen > size {
		return nil, 0, ErrChecksumMismatch
	}

	payload := make([]byte, recLen)
	if _, err := s.logFile.ReadAt(payload, pos+4); err != nil {
		return nil, 0, fmt.Errorf("read record payload failed: %v", err)
	}

	return payload, pos + 4 + recLen, nil
}

// Seal makes the segment immutable. Called by the partition inside its
// append path during rotation, so "at most one unsealed segment" holds.
func (s *Segment) Seal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return nil
	}
	s.sealed = true
	return s.logFile.Sync()
}

// Sealed reports whether the segment accepts further appends.
func (s *Segment) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}

// NextOffset returns one past the last appended offset.
func (s *Segment) NextOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOffset
}

// Size returns the log file size in bytes.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// MaxTimestamp returns the newest record timestamp in unix milliseconds,
// or zero for an empty segment.
func (s *Segment) MaxTimestamp() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxTimestamp
}

// Sync flushes log and index files to stable storage.
func (s *Segment) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.logFile.Sync(); err != nil {
		return fmt.Errorf("sync log file failed: %v", err)
	}
	if err := s.indexFile.Sync(); err != nil {
		return fmt.Errorf("sync index file failed: %v", err)
	}
	return nil
}

// Acquire pins the segment for a read. It returns false once the segment
// has been removed by retention, in which case the reader must treat the
// data as gone.
func (s *Segment) Acquire() bool {
	s.refMu.Lock()
	defer s.refMu.Unlock()

	if s.removed {
		return false
	}
	s.refs++
	return true
}

// Release unpins the segment; the last reader out finishes a pending removal.
func (s *Segment) Release() {
	s.refMu.Lock()
	defer s.refMu.Unlock()

	s.refs--
	if s.removed && s.refs == 0 {
		s.deleteFiles()
	}
}

// Remove marks the segment deleted and removes its files once no reader
// holds a reference. Retention calls this after swapping the segment out of
// the partition's list.
func (s *Segment) Remove() {
	s.refMu.Lock()
	defer s.refMu.Unlock()

	if s.removed {
		return
	}
	s.removed = true
	if s.refs == 0 {
		s.deleteFiles()
	}
}

// deleteFiles closes handles and unlinks the segment files. refMu held.
func (s *Segment) deleteFiles() {
	s.closeFiles()
	os.Remove(filepath.Join(s.DataDir, fmt.Sprintf("%020d.log", s.BaseOffset)))
	os.Remove(filepath.Join(s.DataDir, fmt.Sprintf("%020d.index", s.BaseOffset)))
}

func (s *Segment) closeFiles() {
	if s.logFile != nil {
		s.logFile.Close()
	}
	if s.indexFile != nil {
		s.indexFile.Close()
	}
}

// Close flushes and closes the segment files.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.logFile != nil {
		if err := s.logFile.Sync(); err != nil {
			errs = append(errs, err)
		}
		if err := s.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file failed: %v", err))
		}
		s.logFile = nil
	}
	if s.indexFile != nil {
		if err := s.indexFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index file failed: %v", err))
		}
		s.indexFile = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close segment failed: %v", errs)
	}
	return nil
}
