package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func appendRecords(t *testing.T, s *Segment, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		record := &Record{Value: []byte(fmt.Sprintf("message-%d", i)), Timestamp: int64(i + 1)}
		if _, err := s.Append(record.Marshal(), record.Timestamp); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}
}

func TestSegmentAppendAssignsOffsets(t *testing.T) {
	s, err := NewSegment(t.TempDir(), 100, 1<<20)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	defer s.Close()

	for i := 0; i < 5; i++ {
		record := &Record{Value: []byte("x"), Timestamp: 1}
		offset, err := s.Append(record.Marshal(), record.Timestamp)
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if offset != 100+int64(i) {
			t.Errorf("expected offset %d, got %d", 100+i, offset)
		}
	}

	if s.NextOffset() != 105 {
		t.Errorf("expected next offset 105, got %d", s.NextOffset())
	}
}

func TestSegmentReadBack(t *testing.T) {
	s, err := NewSegment(t.TempDir(), 0, 1<<20)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	defer s.Close()

	appendRecords(t, s, 10)

	pos, err := s.FindPosition(7)
	if err != nil {
		t.Fatalf("find position failed: %v", err)
	}
	payload, _, err := s.ReadRecordAt(pos)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	record, err := UnmarshalRecord(payload)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !bytes.Equal(record.Value, []byte("message-7")) {
		t.Errorf("expected message-7, got %q", record.Value)
	}
}

func TestSegmentRecover(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSegment(dir, 0, 1<<20)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	appendRecords(t, s, 20)
	size := s.Size()
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewSegment(dir, 0, 1<<20)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.NextOffset() != 20 {
		t.Errorf("expected next offset 20 after recovery, got %d", reopened.NextOffset())
	}
	if reopened.Size() != size {
		t.Errorf("expected size %d after recovery, got %d", size, reopened.Size())
	}
}

func TestSegmentRecoverTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()

	s, err := NewSegment(dir, 0, 1<<20)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	appendRecords(t, s, 3)
	size := s.Size()
	s.Close()

	// Simulate a torn write: a length prefix promising more bytes than exist.
	logPath := filepath.Join(dir, fmt.Sprintf("%020d.log", 0))
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open log failed: %v", err)
	}
	f.Write([]byte{0x00, 0x00, 0x10, 0x00, 0xde, 0xad})
	f.Close()

	reopened, err := NewSegment(dir, 0, 1<<20)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.NextOffset() != 3 {
		t.Errorf("expected next offset 3, got %d", reopened.NextOffset())
	}
	if reopened.Size() != size {
		t.Errorf("expected torn tail truncated to %d bytes, got %d", size, reopened.Size())
	}
}

func TestSegmentSealedRejectsAppend(t *testing.T) {
	s, err := NewSegment(t.TempDir(), 0, 1<<20)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	defer s.Close()

	appendRecords(t, s, 1)
	if err := s.Seal(); err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	record := &Record{Value: []byte("late"), Timestamp: 2}
	if _, err := s.Append(record.Marshal(), 2); err != ErrSegmentSealed {
		t.Fatalf("expected ErrSegmentSealed, got %v", err)
	}
}

func TestSegmentFull(t *testing.T) {
	s, err := NewSegment(t.TempDir(), 0, 64)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	defer s.Close()

	record := &Record{Value: bytes.Repeat([]byte("a"), 40), Timestamp: 1}
	if _, err := s.Append(record.Marshal(), 1); err != nil {
		t.Fatalf("first append should fit: %v", err)
	}
	if _, err := s.Append(record.Marshal(), 2); err != ErrSegmentFull {
		t.Fatalf("expected ErrSegmentFull, got %v", err)
	}
}

func TestSegmentSparseIndexLookup(t *testing.T) {
	s, err := NewSegment(t.TempDir(), 0, 10<<20)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	defer s.Close()

	// Large records force multiple sparse index entries.
	for i := 0; i < 50; i++ {
		record := &Record{Value: bytes.Repeat([]byte{byte(i)}, 1024), Timestamp: int64(i)}
		if _, err := s.Append(record.Marshal(), record.Timestamp); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	for _, offset := range []int64{0, 13, 27, 49} {
		pos, err := s.FindPosition(offset)
		if err != nil {
			t.Fatalf("find position %d failed: %v", offset, err)
		}
		payload, _, err := s.ReadRecordAt(pos)
		if err != nil {
			t.Fatalf("read at %d failed: %v", pos, err)
		}
		record, err := UnmarshalRecord(payload)
		if err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if record.Value[0] != byte(offset) {
			t.Errorf("offset %d resolved to wrong record", offset)
		}
	}
}

func TestSegmentRemoveWaitsForReaders(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSegment(dir, 0, 1<<20)
	if err != nil {
		t.Fatalf("create segment failed: %v", err)
	}
	appendRecords(t, s, 1)

	logPath := filepath.Join(dir, fmt.Sprintf("%020d.log", 0))

	if !s.Acquire() {
		t.Fatal("acquire on live segment failed")
	}
	s.Remove()

	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("pinned segment's files should survive removal: %v", err)
	}
	if s.Acquire() {
		t.Fatal("acquire after removal should fail")
	}

	s.Release()
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatal("segment files should be deleted after last release")
	}
}
