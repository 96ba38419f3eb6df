package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// CreateTopicRequest registers a new topic with a fixed partition count.
type CreateTopicRequest struct {
	Name       string
	Partitions int32
}

// CreateTopicResponse acknowledges topic creation.
type CreateTopicResponse struct {
	ErrorCode  int16
	Name       string
	Partitions int32
}

// DeleteTopicRequest removes a topic and all of its data.
type DeleteTopicRequest struct {
	Name string
}

// DeleteTopicResponse acknowledges topic deletion.
type DeleteTopicResponse struct {
	ErrorCode int16
}

// ListTopicsRequest lists all topics. It has no payload beyond the header.
type ListTopicsRequest struct{}

// TopicSummary is one row in a list topics response.
type TopicSummary struct {
	Name       string
	Partitions int32
	CreatedAt  int64
}

// ListTopicsResponse enumerates the broker's topics.
type ListTopicsResponse struct {
	ErrorCode int16
	Topics    []TopicSummary
}

// GetTopicInfoRequest asks for per-partition detail on one topic.
type GetTopicInfoRequest struct {
	Name string
}

// PartitionInfo describes the offset range held by one partition.
type PartitionInfo struct {
	Partition     int32
	LowWatermark  int64
	HighWatermark int64
	Segments      int32
}

// GetTopicInfoResponse carries per-partition detail for one topic.
type GetTopicInfoResponse struct {
	ErrorCode  int16
	Name       string
	Partitions []PartitionInfo
}

// ReadCreateTopicRequest decodes a create topic request payload.
func ReadCreateTopicRequest(r io.Reader) (*CreateTopicRequest, error) {
	var req CreateTopicRequest
	var err error

	if req.Name, err = readString(r); err != nil {
		return nil, fmt.Errorf("read topic name failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Partitions); err != nil {
		return nil, fmt.Errorf("read partition count failed: %v", err)
	}
	return &req, nil
}

// Write encodes the full request, header included.
func (req *CreateTopicRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, CreateTopicRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.Name)
	binary.Write(buf, binary.BigEndian, req.Partitions)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *CreateTopicResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	writeString(buf, res.Name)
	binary.Write(buf, binary.BigEndian, res.Partitions)
	return writeFramedResponse(w, buf.Bytes())
}

// ReadCreateTopicResponse decodes a framed create topic response.
func ReadCreateTopicResponse(r io.Reader) (*CreateTopicResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res CreateTopicResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	if res.Name, err = readString(payload); err != nil {
		return nil, fmt.Errorf("read topic name failed: %v", err)
	}
	if err := binary.Read(payload, binary.BigEndian, &res.Partitions); err != nil {
		return nil, fmt.Errorf("read partition count failed: %v", err)
	}
	return &res, nil
}

// ReadDeleteTopicRequest decodes a delete topic request payload.
func ReadDeleteTopicRequest(r io.Reader) (*DeleteTopicRequest, error) {
	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read topic name failed: %v", err)
	}
	return &DeleteTopicRequest{Name: name}, nil
}

// Write encodes the full request, header included.
func (req *DeleteTopicRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, DeleteTopicRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.Name)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *DeleteTopicResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	return writeFramedResponse(w, buf.Bytes())
}

// ReadDeleteTopicResponse decodes a framed delete topic response.
func ReadDeleteTopicResponse(r io.Reader) (*DeleteTopicResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res DeleteTopicResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	return &res, nil
}

// Write encodes the full request, header included.
func (req *ListTopicsRequest) Write(w io.Writer) error {
	return WriteRequestHeader(w, ListTopicsRequestType)
}

// Write encodes the framed response.
func (res *ListTopicsResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	binary.Write(buf, binary.BigEndian, int32(len(res.Topics)))
	for _, topic := range res.Topics {
		writeString(buf, topic.Name)
		binary.Write(buf, binary.BigEndian, topic.Partitions)
		binary.Write(buf, binary.BigEndian, topic.CreatedAt)
	}
	return writeFramedResponse(w, buf.Bytes())
}

// ReadListTopicsResponse decodes a framed list topics response.
func ReadListTopicsResponse(r io.Reader) (*ListTopicsResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res ListTopicsResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}

	var topicCount int32
	if err := binary.Read(payload, binary.BigEndian, &topicCount); err != nil {
		return nil, fmt.Errorf("read topic count failed: %v", err)
	}
	for i := int32(0); i < topicCount; i++ {
		var topic TopicSummary
		if topic.Name, err = readString(payload); err != nil {
			return nil, fmt.Errorf("read topic name failed: %v", err)
		}
		if err := binary.Read(payload, binary.BigEndian, &topic.Partitions); err != nil {
			return nil, fmt.Errorf("read partition count failed: %v", err)
		}
		if err := binary.Read(payload, binary.BigEndian, &topic.CreatedAt); err != nil {
			return nil, fmt.Errorf("read created at failed: %v", err)
		}
		res.Topics = append(res.Topics, topic)
	}
	return &res, nil
}

// ReadGetTopicInfoRequest decodes a get topic info request payload.
func ReadGetTopicInfoRequest(r io.Reader) (*GetTopicInfoRequest, error) {
	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("read topic name failed: %v", err)
	}
	return &GetTopicInfoRequest{Name: name}, nil
}

// Write encodes the full request, header included.
func (req *GetTopicInfoRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, GetTopicInfoRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.Name)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *GetTopicInfoResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	writeString(buf, res.Name)
	binary.Write(buf, binary.BigEndian, int32(len(res.Partitions)))
	for _, partition := range res.Partitions {
		binary.Write(buf, binary.BigEndian, partition.Partition)
		binary.Write(buf, binary.BigEndian, partition.LowWatermark)
		binary.Write(buf, binary.BigEndian, partition.HighWatermark)
		binary.Write(buf, binary.BigEndian, partition.Segments)
	}
	return writeFramedResponse(w, buf.Bytes())
}

// ReadGetTopicInfoResponse decodes a framed get topic info response.
func ReadGetTopicInfoResponse(r io.Reader) (*GetTopicInfoResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res GetTopicInfoResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	if res.Name, err = readString(payload); err != nil {
		return nil, fmt.Errorf("read topic name failed: %v", err)
	}

	var partitionCount int32
	if err := binary.Read(payload, binary.BigEndian, &partitionCount); err != nil {
		return nil, fmt.Errorf("read partition count failed: %v", err)
	}
	for i := int32(0); i < partitionCount; i++ {
		var partition PartitionInfo
		if err := binary.Read(payload, binary.BigEndian, &partition.Partition); err != nil {
			return nil, fmt.Errorf("read partition id failed: %v", err)
		}
		if err := binary.Read(payload, binary.BigEndian, &partition.LowWatermark); err != nil {
			return nil, fmt.Errorf("read low watermark failed: %v", err)
		}
		if err := binary.Read(payload, binary.BigEndian, &partition.HighWatermark); err != nil {
			return nil, fmt.Errorf("read high watermark failed: %v", err)
		}
		if err := binary.Read(payload, binary.BigEndian, &partition.Segments); err != nil {
			return nil, fmt.Errorf("read segment count failed: %v", err)
		}
		res.Partitions = append(res.Partitions, partition)
	}
	return &res, nil
}
