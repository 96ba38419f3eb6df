package storage

import (
	"bytes"
	"testing"
)

func TestRecordRoundTrip(t *testing.T) {
	record := &Record{
		Key:       []byte("order-42"),
		Value:     []byte("payload"),
		Timestamp: 1700000000000,
		Headers: []Header{
			{Key: "trace-id", Value: []byte("abc123")},
			{Key: "source", Value: []byte("checkout")},
		},
	}

	decoded, err := UnmarshalRecord(record.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !bytes.Equal(decoded.Key, record.Key) {
		t.Errorf("key mismatch: got %q, want %q", decoded.Key, record.Key)
	}
	if !bytes.Equal(decoded.Value, record.Value) {
		t.Errorf("value mismatch: got %q, want %q", decoded.Value, record.Value)
	}
	if decoded.Timestamp != record.Timestamp {
		t.Errorf("timestamp mismatch: got %d, want %d", decoded.Timestamp, record.Timestamp)
	}
	if len(decoded.Headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(decoded.Headers))
	}
	if decoded.Headers[0].Key != "trace-id" || !bytes.Equal(decoded.Headers[0].Value, []byte("abc123")) {
		t.Errorf("header order not preserved: %+v", decoded.Headers)
	}
}

func TestRecordNilKey(t *testing.T) {
	record := &Record{Value: []byte("keyless"), Timestamp: 1}

	decoded, err := UnmarshalRecord(record.Marshal())
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Key != nil {
		t.Errorf("expected nil key, got %q", decoded.Key)
	}
}

func TestRecordChecksumMismatch(t *testing.T) {
	record := &Record{Key: []byte("k"), Value: []byte("value"), Timestamp: 1}
	data := record.Marshal()

	// Flip a bit inside the value; the CRC must catch it.
	data[len(data)-6] ^= 0x01

	if _, err := UnmarshalRecord(data); err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestRecordTooShort(t *testing.T) {
	if _, err := UnmarshalRecord([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated record")
	}
}
