package compression

import (
	"bytes"
	"testing"
)

func TestCompressMessageRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 50)

	for _, compressionType := range []CompressionType{None, Gzip, Zlib, Snappy, Zstd} {
		t.Run(compressionType.String(), func(t *testing.T) {
			compressed, err := CompressMessage(payload, compressionType)
			if err != nil {
				t.Fatalf("compress failed: %v", err)
			}

			decompressed, err := DecompressMessage(compressed)
			if err != nil {
				t.Fatalf("decompress failed: %v", err)
			}
			if !bytes.Equal(decompressed, payload) {
				t.Error("round trip changed the payload")
			}
		})
	}
}

func TestCompressMessageShrinksRepetitiveData(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaa"), 1000)

	compressed, err := CompressMessage(payload, Zstd)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Errorf("expected compression to shrink %d bytes, got %d", len(payload), len(compressed))
	}
}

func TestDecompressMessageRejectsTruncated(t *testing.T) {
	if _, err := DecompressMessage([]byte{1, 2}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestDecompressMessageLengthMismatch(t *testing.T) {
	compressed, err := CompressMessage([]byte("hello"), Gzip)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	// Corrupt the declared original length.
	compressed[4] ^= 0xff

	if _, err := DecompressMessage(compressed); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func TestParseType(t *testing.T) {
	for name, want := range map[string]CompressionType{
		"":       None,
		"none":   None,
		"gzip":   Gzip,
		"zlib":   Zlib,
		"snappy": Snappy,
		"zstd":   Zstd,
	} {
		got, err := ParseType(name)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %v, %v; want %v", name, got, err, want)
		}
	}

	if _, err := ParseType("lz4"); err == nil {
		t.Error("unsupported type should error")
	}
}
