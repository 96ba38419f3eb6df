package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Header is a single producer-supplied key/value header. Order is preserved.
type Header struct {
	Key   string
	Value []byte
}

// Record is the immutable unit stored in the log: an optional key, a value,
// a producer timestamp in unix milliseconds, and an ordered header sequence.
// Records are created by producers and never mutated after append.
type Record struct {
	Key       []byte
	Value     []byte
	Timestamp int64
	Headers   []Header
}

// Wire layout of a marshaled record (big-endian):
//
//	crc32(4) | timestamp(8) | keyLen(4, -1 = nil) | key |
//	valueLen(4) | value | headerCount(4) | { keyLen(2) key valueLen(4) value }*
//
// The CRC covers everything after itself and is verified on every read so a
// torn or corrupted entry is detected instead of handed to a consumer.
const recordHeaderSize = 4 + 8 + 4

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Marshal encodes the record into its on-disk representation.
func (r *Record) Marshal() []byte {
	size := recordHeaderSize
	if r.Key != nil {
		size += len(r.Key)
	}
	size += 4 + len(r.Value)
	size += 4
	for _, h := range r.Headers {
		size += 2 + len(h.Key) + 4 + len(h.Value)
	}

	buf := make([]byte, size)
	pos := 4 // CRC written last

	binary.BigEndian.PutUint64(buf[pos:], uint64(r.Timestamp))
	pos += 8

	if r.Key == nil {
		binary.BigEndian.PutUint32(buf[pos:], uint32(0xFFFFFFFF))
		pos += 4
	} else {
		binary.BigEndian.PutUint32(buf[pos:], uint32(len(r.Key)))
		pos += 4
		pos += copy(buf[pos:], r.Key)
	}

	binary.BigEndian.PutUint32(buf[pos:], uint32(len(r.Value)))
	pos += 4
	pos += copy(buf[pos:], r.Value)

	binary.BigEndian.PutUint32(buf[pos:], uint32(len(r.Headers)))
	pos += 4
	for _, h := range r.Headers {
		binary.BigEndian.PutUint16(buf[pos:], uint16(len(h.Key)))
		pos += 2
		pos += copy(buf[pos:], h.Key)
		binary.BigEndian.PutUint32(buf[pos:], uint32(len(h.Value)))
		pos += 4
		pos += copy(buf[pos:], h.Value)
	}

	binary.BigEndian.PutUint32(buf[0:4], crc32.Checksum(buf[4:], crcTable))
	return buf
}

// UnmarshalRecord decodes a record and verifies its checksum. A checksum
// mismatch is reported as ErrChecksumMismatch so callers can map it to the
// data-corruption failure mode.
func UnmarshalRecord(data []byte) (*Record, error) {
	if len(data) < recordHeaderSize {
		return nil, fmt.Errorf("record too short: %d bytes", len(data))
	}

	stored := binary.BigEndian.Uint32(data[0:4])
	if computed := crc32.Checksum(data[4:], crcTable); computed != stored {
		return nil, ErrChecksumMismatch
	}

	r := &Record{}
	pos := 4

	r.Timestamp = int64(binary.BigEndian.Uint64(data[pos:]))
	pos += 8

	keyLen := binary.BigEndian.Uint32(data[pos:])
	pos += 4
	if keyLen != 0xFFFFFFFF {
		if pos+int(keyLen) > len(data) {
			return nil, fmt.Errorf("record key overruns payload")
		}
		r.Key = append([]byte(nil), data[pos:pos+int(keyLen)]...)
		pos += int(keyLen)
	}

	if pos+4 > len(data) {
		return nil, fmt.Errorf("record value length overruns payload")
	}
	valueLen := int(binary.BigEndian.Uint32(data[pos:]))
	pos += 4
	if pos+valueLen > len(data) {
		return nil, fmt.Errorf("record value overruns payload")
	}
	r.Value = append([]byte(nil), data[pos:pos+valueLen]...)
	pos += valueLen

	if pos+4 > len(data) {
		return nil, fmt.Errorf("record header count overruns payload")
	}
	headerCount := int(binary.BigEndian.Uint32(data[pos:]))
	pos += 4

	for i := 0; i < headerCount; i++ {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("record header %d overruns payload", i)
		}
		hKeyLen := int(binary.BigEndian.Uint16(data[pos:]))
		pos += 2
		if pos+hKeyLen+4 > len(data) {
			return nil, fmt.Errorf("record header %d overruns payload", i)
		}
		hKey := string(data[pos : pos+hKeyLen])
		pos += hKeyLen
		hValueLen := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if pos+hValueLen > len(data) {
			return nil, fmt.Errorf("record header %d overruns payload", i)
		}
		hValue := append([]byte(nil), data[pos:pos+hValueLen]...)
		pos += hValueLen
		r.Headers = append(r.Headers, Header{Key: hKey, Value: hValue})
	}

	return r, nil
}
