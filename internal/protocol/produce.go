package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Header is one key/value pair attached to a message.
type Header struct {
	Key   string
	Value []byte
}

// Message is a single record on the wire. Key may be nil. Timestamp is unix
// milliseconds; zero means the broker assigns one on append.
type Message struct {
	Key       []byte
	Value     []byte
	Timestamp int64
	Headers   []Header
}

// ProduceRequest appends a batch of messages to one partition.
type ProduceRequest struct {
	Topic       string
	Partition   int32
	Compression int8
	Messages    []Message
}

// ProduceResponse reports the offset assigned to the first message of the
// batch.
type ProduceResponse struct {
	ErrorCode  int16
	BaseOffset int64
}

func readMessage(r io.Reader) (Message, error) {
	var msg Message

	key, err := readBytes(r)
	if err != nil {
		return msg, fmt.Errorf("read message key failed: %v", err)
	}
	msg.Key = key

	value, err := readBytes(r)
	if err != nil {
		return msg, fmt.Errorf("read message value failed: %v", err)
	}
	msg.Value = value

	if err := binary.Read(r, binary.BigEndian, &msg.Timestamp); err != nil {
		return msg, fmt.Errorf("read message timestamp failed: %v", err)
	}

	var headerCount int32
	if err := binary.Read(r, binary.BigEndian, &headerCount); err != nil {
		return msg, fmt.Errorf("read header count failed: %v", err)
	}
	for i := int32(0); i < headerCount; i++ {
		key, err := readString(r)
		if err != nil {
			return msg, fmt.Errorf("read header key failed: %v", err)
		}
		value, err := readBytes(r)
		if err != nil {
			return msg, fmt.Errorf("read header value failed: %v", err)
		}
		msg.Headers = append(msg.Headers, Header{Key: key, Value: value})
	}

	return msg, nil
}

func writeMessage(buf *bytes.Buffer, msg Message) {
	writeBytes(buf, msg.Key)
	writeBytes(buf, msg.Value)
	binary.Write(buf, binary.BigEndian, msg.Timestamp)
	binary.Write(buf, binary.BigEndian, int32(len(msg.Headers)))
	for _, header := range msg.Headers {
		writeString(buf, header.Key)
		writeBytes(buf, header.Value)
	}
}

// ReadProduceRequest decodes a produce request payload. The request type and
// version have already been consumed by the dispatcher.
func ReadProduceRequest(r io.Reader) (*ProduceRequest, error) {
	var req ProduceRequest

	topic, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read topic failed: %v", err)
	}
	req.Topic = topic

	if err := binary.Read(r, binary.BigEndian, &req.Partition); err != nil {
		return nil, fmt.Errorf("read partition failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Compression); err != nil {
		return nil, fmt.Errorf("read compression failed: %v", err)
	}

	var messageCount int32
	if err := binary.Read(r, binary.BigEndian, &messageCount); err != nil {
		return nil, fmt.Errorf("read message count failed: %v", err)
	}
	if messageCount < 0 {
		return nil, fmt.Errorf("negative message count %d", messageCount)
	}

	for i := int32(0); i < messageCount; i++ {
		msg, err := readMessage(r)
		if err != nil {
			return nil, err
		}
		if len(msg.Value) > MaxMessageSize {
			return nil, fmt.Errorf("message size %d exceeds limit %d", len(msg.Value), MaxMessageSize)
		}
		req.Messages = append(req.Messages, msg)
	}

	return &req, nil
}

// Write encodes the full request, header included.
func (req *ProduceRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, ProduceRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.Topic)
	binary.Write(buf, binary.BigEndian, req.Partition)
	binary.Write(buf, binary.BigEndian, req.Compression)
	binary.Write(buf, binary.BigEndian, int32(len(req.Messages)))
	for _, msg := range req.Messages {
		writeMessage(buf, msg)
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *ProduceResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	binary.Write(buf, binary.BigEndian, res.BaseOffset)
	return writeFramedResponse(w, buf.Bytes())
}

// ReadProduceResponse decodes a framed produce response.
func ReadProduceResponse(r io.Reader) (*ProduceResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res ProduceResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	if err := binary.Read(payload, binary.BigEndian, &res.BaseOffset); err != nil {
		return nil, fmt.Errorf("read base offset failed: %v", err)
	}
	return &res, nil
}
