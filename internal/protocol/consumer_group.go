package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// JoinGroupRequest registers a member with a consumer group. The call blocks
// on the broker until the rebalance window closes.
type JoinGroupRequest struct {
	GroupID        string
	MemberID       string
	ClientID       string
	Topics         []string
	SessionTimeout time.Duration
}

// GroupMember describes one member of a group in a join response.
type GroupMember struct {
	ID       string
	ClientID string
}

// JoinGroupResponse carries the new generation and this member's partition
// assignment.
type JoinGroupResponse struct {
	ErrorCode  int16
	Generation int32
	GroupID    string
	MemberID   string
	Leader     string
	Members    []GroupMember
	Assignment map[string][]int32
}

// LeaveGroupRequest removes a member from its group.
type LeaveGroupRequest struct {
	GroupID  string
	MemberID string
}

// LeaveGroupResponse acknowledges a leave.
type LeaveGroupResponse struct {
	ErrorCode int16
}

// HeartbeatRequest keeps a member's session alive.
type HeartbeatRequest struct {
	GroupID    string
	MemberID   string
	Generation int32
}

// HeartbeatResponse tells the member whether it is still current. A
// REBALANCE_IN_PROGRESS error code means the member must rejoin.
type HeartbeatResponse struct {
	ErrorCode int16
}

// CommitOffsetRequest durably records a consumed offset. The generation is
// validated against the group's current one.
type CommitOffsetRequest struct {
	GroupID    string
	MemberID   string
	Topic      string
	Partition  int32
	Offset     int64
	Generation int32
}

// CommitOffsetResponse acknowledges a commit.
type CommitOffsetResponse struct {
	ErrorCode int16
}

// FetchOffsetRequest reads the group's committed offset for one partition.
type FetchOffsetRequest struct {
	GroupID   string
	Topic     string
	Partition int32
}

// FetchOffsetResponse returns the committed offset, or -1 when the group has
// never committed for the partition.
type FetchOffsetResponse struct {
	ErrorCode int16
	Offset    int64
}

// ReadJoinGroupRequest decodes a join group request payload.
func ReadJoinGroupRequest(r io.Reader) (*JoinGroupRequest, error) {
	var req JoinGroupRequest
	var err error

	if req.GroupID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read group id failed: %v", err)
	}
	if req.MemberID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read member id failed: %v", err)
	}
	if req.ClientID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read client id failed: %v", err)
	}

	var topicCount int32
	if err := binary.Read(r, binary.BigEndian, &topicCount); err != nil {
		return nil, fmt.Errorf("read topic count failed: %v", err)
	}
	if topicCount < 0 {
		return nil, fmt.Errorf("negative topic count %d", topicCount)
	}
	req.Topics = make([]string, topicCount)
	for i := int32(0); i < topicCount; i++ {
		if req.Topics[i], err = readString(r); err != nil {
			return nil, fmt.Errorf("read topic failed: %v", err)
		}
	}

	var sessionTimeoutMs int32
	if err := binary.Read(r, binary.BigEndian, &sessionTimeoutMs); err != nil {
		return nil, fmt.Errorf("read session timeout failed: %v", err)
	}
	req.SessionTimeout = time.Duration(sessionTimeoutMs) * time.Millisecond

	return &req, nil
}

// Write encodes the full request, header included.
func (req *JoinGroupRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, JoinGroupRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.GroupID)
	writeString(buf, req.MemberID)
	writeString(buf, req.ClientID)
	binary.Write(buf, binary.BigEndian, int32(len(req.Topics)))
	for _, topic := range req.Topics {
		writeString(buf, topic)
	}
	binary.Write(buf, binary.BigEndian, int32(req.SessionTimeout/time.Millisecond))

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *JoinGroupResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	binary.Write(buf, binary.BigEndian, res.Generation)
	writeString(buf, res.GroupID)
	writeString(buf, res.MemberID)
	writeString(buf, res.Leader)

	binary.Write(buf, binary.BigEndian, int32(len(res.Members)))
	for _, member := range res.Members {
		writeString(buf, member.ID)
		writeString(buf, member.ClientID)
	}

	binary.Write(buf, binary.BigEndian, int32(len(res.Assignment)))
	for topic, partitions := range res.Assignment {
		writeString(buf, topic)
		binary.Write(buf, binary.BigEndian, int32(len(partitions)))
		for _, partition := range partitions {
			binary.Write(buf, binary.BigEndian, partition)
		}
	}

	return writeFramedResponse(w, buf.Bytes())
}

// ReadJoinGroupResponse decodes a framed join group response.
func ReadJoinGroupResponse(r io.Reader) (*JoinGroupResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res JoinGroupResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	if err := binary.Read(payload, binary.BigEndian, &res.Generation); err != nil {
		return nil, fmt.Errorf("read generation failed: %v", err)
	}
	if res.GroupID, err = readString(payload); err != nil {
		return nil, fmt.Errorf("read group id failed: %v", err)
	}
	if res.MemberID, err = readString(payload); err != nil {
		return nil, fmt.Errorf("read member id failed: %v", err)
	}
	if res.Leader, err = readString(payload); err != nil {
		return nil, fmt.Errorf("read leader failed: %v", err)
	}

	var memberCount int32
	if err := binary.Read(payload, binary.BigEndian, &memberCount); err != nil {
		return nil, fmt.Errorf("read member count failed: %v", err)
	}
	for i := int32(0); i < memberCount; i++ {
		var member GroupMember
		if member.ID, err = readString(payload); err != nil {
			return nil, fmt.Errorf("read member id failed: %v", err)
		}
		if member.ClientID, err = readString(payload); err != nil {
			return nil, fmt.Errorf("read member client id failed: %v", err)
		}
		res.Members = append(res.Members, member)
	}

	var topicCount int32
	if err := binary.Read(payload, binary.BigEndian, &topicCount); err != nil {
		return nil, fmt.Errorf("read assignment count failed: %v", err)
	}
	res.Assignment = make(map[string][]int32, topicCount)
	for i := int32(0); i < topicCount; i++ {
		topic, err := readString(payload)
		if err != nil {
			return nil, fmt.Errorf("read assignment topic failed: %v", err)
		}
		var partitionCount int32
		if err := binary.Read(payload, binary.BigEndian, &partitionCount); err != nil {
			return nil, fmt.Errorf("read partition count failed: %v", err)
		}
		partitions := make([]int32, partitionCount)
		for j := int32(0); j < partitionCount; j++ {
			if err := binary.Read(payload, binary.BigEndian, &partitions[j]); err != nil {
				return nil, fmt.Errorf("read partition failed: %v", err)
			}
		}
		res.Assignment[topic] = partitions
	}

	return &res, nil
}

// ReadLeaveGroupRequest decodes a leave group request payload.
func ReadLeaveGroupRequest(r io.Reader) (*LeaveGroupRequest, error) {
	var req LeaveGroupRequest
	var err error

	if req.GroupID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read group id failed: %v", err)
	}
	if req.MemberID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read member id failed: %v", err)
	}
	return &req, nil
}

// Write encodes the full request, header included.
func (req *LeaveGroupRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, LeaveGroupRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.GroupID)
	writeString(buf, req.MemberID)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *LeaveGroupResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	return writeFramedResponse(w, buf.Bytes())
}

// ReadLeaveGroupResponse decodes a framed leave group response.
func ReadLeaveGroupResponse(r io.Reader) (*LeaveGroupResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res LeaveGroupResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	return &res, nil
}

// ReadHeartbeatRequest decodes a heartbeat request payload.
func ReadHeartbeatRequest(r io.Reader) (*HeartbeatRequest, error) {
	var req HeartbeatRequest
	var err error

	if req.GroupID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read group id failed: %v", err)
	}
	if req.MemberID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read member id failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Generation); err != nil {
		return nil, fmt.Errorf("read generation failed: %v", err)
	}
	return &req, nil
}

// Write encodes the full request, header included.
func (req *HeartbeatRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, HeartbeatRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.GroupID)
	writeString(buf, req.MemberID)
	binary.Write(buf, binary.BigEndian, req.Generation)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *HeartbeatResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	return writeFramedResponse(w, buf.Bytes())
}

// ReadHeartbeatResponse decodes a framed heartbeat response.
func ReadHeartbeatResponse(r io.Reader) (*HeartbeatResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res HeartbeatResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	return &res, nil
}

// ReadCommitOffsetRequest decodes a commit offset request payload.
func ReadCommitOffsetRequest(r io.Reader) (*CommitOffsetRequest, error) {
	var req CommitOffsetRequest
	var err error

	if req.GroupID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read group id failed: %v", err)
	}
	if req.MemberID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read member id failed: %v", err)
	}
	if req.Topic, err = readString(r); err != nil {
		return nil, fmt.Errorf("read topic failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Partition); err != nil {
		return nil, fmt.Errorf("read partition failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Offset); err != nil {
		return nil, fmt.Errorf("read offset failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Generation); err != nil {
		return nil, fmt.Errorf("read generation failed: %v", err)
	}
	return &req, nil
}

// Write encodes the full request, header included.
func (req *CommitOffsetRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, CommitOffsetRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.GroupID)
	writeString(buf, req.MemberID)
	writeString(buf, req.Topic)
	binary.Write(buf, binary.BigEndian, req.Partition)
	binary.Write(buf, binary.BigEndian, req.Offset)
	binary.Write(buf, binary.BigEndian, req.Generation)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *CommitOffsetResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	return writeFramedResponse(w, buf.Bytes())
}

// ReadCommitOffsetResponse decodes a framed commit offset response.
func ReadCommitOffsetResponse(r io.Reader) (*CommitOffsetResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res CommitOffsetResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	return &res, nil
}

// ReadFetchOffsetRequest decodes a fetch offset request payload.
func ReadFetchOffsetRequest(r io.Reader) (*FetchOffsetRequest, error) {
	var req FetchOffsetRequest
	var err error

	if req.GroupID, err = readString(r); err != nil {
		return nil, fmt.Errorf("read group id failed: %v", err)
	}
	if req.Topic, err = readString(r); err != nil {
		return nil, fmt.Errorf("read topic failed: %v", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Partition); err != nil {
		return nil, fmt.Errorf("read partition failed: %v", err)
	}
	return &req, nil
}

// Write encodes the full request, header included.
func (req *FetchOffsetRequest) Write(w io.Writer) error {
	if err := WriteRequestHeader(w, FetchOffsetRequestType); err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	writeString(buf, req.GroupID)
	writeString(buf, req.Topic)
	binary.Write(buf, binary.BigEndian, req.Partition)

	_, err := w.Write(buf.Bytes())
	return err
}

// Write encodes the framed response.
func (res *FetchOffsetResponse) Write(w io.Writer) error {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, res.ErrorCode)
	binary.Write(buf, binary.BigEndian, res.Offset)
	return writeFramedResponse(w, buf.Bytes())
}

// ReadFetchOffsetResponse decodes a framed fetch offset response.
func ReadFetchOffsetResponse(r io.Reader) (*FetchOffsetResponse, error) {
	payload, err := ReadFramedResponse(r)
	if err != nil {
		return nil, err
	}

	var res FetchOffsetResponse
	if err := binary.Read(payload, binary.BigEndian, &res.ErrorCode); err != nil {
		return nil, fmt.Errorf("read error code failed: %v", err)
	}
	if err := binary.Read(payload, binary.BigEndian, &res.Offset); err != nil {
		return nil, fmt.Errorf("read offset failed: %v", err)
	}
	return &res, nil
}
