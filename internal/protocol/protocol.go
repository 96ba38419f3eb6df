package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Requests are framed as: request type (int32), protocol version (int16),
// then the request-specific payload. Responses are framed as: total payload
// length (int32), error code (int16), then the response-specific payload.
// All integers are big-endian; strings are int16-length-prefixed.

func readString(r io.Reader) (string, error) {
	var length int16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}
	if length < 0 {
		return "", fmt.Errorf("negative string length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, int16(len(s)))
	buf.WriteString(s)
}

// readBytes reads an int32-length-prefixed byte slice; length -1 means nil.
func readBytes(r io.Reader) ([]byte, error) {
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == -1 {
		return nil, nil
	}
	if length < 0 {
		return nil, fmt.Errorf("negative byte slice length %d", length)
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("byte slice length %d exceeds limit %d", length, MaxMessageSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		binary.Write(buf, binary.BigEndian, int32(-1))
		return
	}
	binary.Write(buf, binary.BigEndian, int32(len(b)))
	buf.Write(b)
}

// WriteRequestHeader writes the request type and protocol version that
// prefix every request.
func WriteRequestHeader(w io.Writer, requestType int32) error {
	if err := binary.Write(w, binary.BigEndian, requestType); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, int16(ProtocolVersion))
}

// readVersion consumes the protocol version that follows the request type.
func readVersion(r io.Reader) error {
	var version int16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return fmt.Errorf("read version failed: %v", err)
	}
	if version != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d", version)
	}
	return nil
}

// writeFramedResponse writes the length prefix followed by the payload.
func writeFramedResponse(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, int32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFramedResponse reads a length-prefixed response payload and returns a
// reader positioned at the error code.
func ReadFramedResponse(r io.Reader) (*bytes.Reader, error) {
	var length int32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read response length failed: %v", err)
	}
	if length < 0 || length > MaxResponseSize {
		return nil, fmt.Errorf("invalid response length %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read response payload failed: %v", err)
	}
	return bytes.NewReader(payload), nil
}
