package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FetchRequest reads messages from one partition starting at Offset.
type FetchRequest struct {
	Topic     string
	Partition int32
	Offset    int64
	MaxBytes  int32
}

// FetchedMessage is a message paired with the offset it occupies.
type FetchedMessage struct {
	Offset  int64
	Message Message
}

// FetchResponse carries the fetched batch. NextOffset is where the next
// fetch should start; HighWatermark is the offset one past the last
// appended message. An empty batch with ErrorCode 0 means the consumer is
// caught up. When ErrorCode reports data corruption, NextOffset carries the
// last offset that is still readable.
type FetchResponse struct {
	ErrorCode     int16
	Messages      []FetchedMessage
	NextOffset    int64
	HighWatermark int64
}

// ReadFetchRequest decodes a fetch request payload.
func ReadFetchRequest(r io.Reader) (*FetchRequest, error) {
	var req FetchRequest

	topic, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read topic failed: %v", err)
	}
	req.Topic = topic

	if err := binary.Read(r, binary.BigEndian, &req.Partition); err != nil {
		return nil, fmt.Errorf("read partition failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Offset); err != nil {
		return nil, fmt.Errorf("read offset failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.MaxBytes); err != nil {
		return nil, fmt.Errorf("read max bytes failed: %v", err)
	}

	if req.MaxBytes <= 0 {
		req.MaxBytes = DefaultMaxFetchBytes
	}
	if req.MaxBytes > MaxFetchBytesLimit {
		req.MaxBytes = MaxFetchBytesLimit
	}

	return &req, nil
}

// Write encodes the full request, header included.
func (req *FetchRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, FetchRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.Topic)
	binary.Write(buf, binary.BigEndian, req.Partition)
	binary.Write(buf, binary.BigEndian, req.Offset)
	binary.Write(buf, binary.BigEndian, req.MaxBytes)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *FetchResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	binary.Write(buf, binary.BigEndian, res.NextOffset)
	binary.Write(buf, binary.BigEndian, res.HighWatermark)
	binary.Write(buf, binary.BigEndian, int32(len(res.Messages)))
	for _, fm := range res.Messages {
		binary.Write(buf, binary.BigEndian, fm.Offset)
		writeMessage(buf, fm.Message)
	}
	return writeFramedResponse(w, buf.Bytes())
}

// ReadFetchResponse decodes a framed fetch response.
func ReadFetchResponse(r io.Reader) (*FetchResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res FetchResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	if err := binary.Read(payload, binary.BigEndian, &res.NextOffset); err != nil {
		return nil, fmt.Errorf("read next offset failed: %v", err)
	}
	if err := binary.Read(payload, binary.BigEndian, &res.HighWatermark); err != nil {
		return nil, fmt.Errorf("read high watermark failed: %v", err)
	}

	var messageCount int32
	if err := binary.Read(payload, binary.BigEndian, &messageCount); err != nil {
		return nil, fmt.Errorf("read message count failed: %v", err)
	}
	for i := int32(0); i < messageCount; i++ {
		var offset int64
		if err := binary.Read(payload, binary.BigEndian, &offset); err != nil {
			return nil, fmt.Errorf("read message offset failed: %v", err)
		}
		msg, err := readMessage(payload)
		if err != nil {
			return nil, err
		}
		res.Messages = append(res.Messages, FetchedMessage{Offset: offset, Message: msg})
	}

	return &res, nil
}
