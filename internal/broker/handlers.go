package broker

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmq/kestrel/internal/compression"
	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/metadata"
	"github.com/kestrelmq/kestrel/internal/metrics"
	"github.com/kestrelmq/kestrel/internal/protocol"
	"github.com/kestrelmq/kestrel/internal/storage"
)

func partitionLabel(partition int32) string {
	return strconv.Itoa(int(partition))
}

// ProduceHandler appends a batch of messages to one partition.
type ProduceHandler struct{}

func (h *ProduceHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadProduceRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.ProduceResponse{BaseOffset: -1}
	defer func() { recordError(protocol.ProduceRequestType, res.ErrorCode) }()

	if req.Topic == "" || len(req.Messages) == 0 {
		res.ErrorCode = protocol.ErrorInvalidMessage
		return res.Write(conn)
	}

	partition, err := cs.broker.Metadata.GetPartition(req.Topic, req.Partition)
	if err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
		return res.Write(conn)
	}

	var appended, bytes int
	for _, msg := range req.Messages {
		value := msg.Value
		if req.Compression != int8(compression.None) {
			value, err = compression.DecompressMessage(value)
			if err != nil {
				res.ErrorCode = protocol.ErrorInvalidMessage
				return res.Write(conn)
			}
		}

		timestamp := msg.Timestamp
		if timestamp == 0 {
			timestamp = time.Now().UnixMilli()
		}

		record := &storage.Record{
			Key:       msg.Key,
			Value:     value,
			Timestamp: timestamp,
		}
		for _, header := range msg.Headers {
			record.Headers = append(record.Headers, storage.Header{Key: header.Key, Value: header.Value})
		}

		offset, err := partition.Append(record)
		if err != nil {
			res.ErrorCode = protocol.ErrorCodeFor(err)
			return res.Write(conn)
		}
		if res.BaseOffset == -1 {
			res.BaseOffset = offset
		}
		appended++
		bytes += len(value)
	}

	metrics.RecordAppend(req.Topic, req.Partition, appended, bytes)
	metrics.LogSegments.WithLabelValues(req.Topic, partitionLabel(req.Partition)).
		Set(float64(partition.SegmentCount()))
	return res.Write(conn)
}

// FetchHandler reads a batch of messages from one partition.
type FetchHandler struct{}

func (h *FetchHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadFetchRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.FetchResponse{NextOffset: req.Offset}
	defer func() { recordError(protocol.FetchRequestType, res.ErrorCode) }()

	partition, err := cs.broker.Metadata.GetPartition(req.Topic, req.Partition)
	if err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
		return res.Write(conn)
	}
	res.HighWatermark = partition.HighWatermark()

	records, nextOffset, err := partition.Read(req.Offset, req.MaxBytes)
	if err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
		// A corruption failure reports the last readable offset in
		// NextOffset so the consumer can recover without broker logs.
		var typed *typederrors.TypedError
		if typederrors.IsDataCorruption(err) && errors.As(err, &typed) {
			res.NextOffset = typed.Offset
		}
		return res.Write(conn)
	}

	res.NextOffset = nextOffset
	for i, record := range records {
		msg := protocol.Message{
			Key:       record.Key,
			Value:     record.Value,
			Timestamp: record.Timestamp,
		}
		for _, header := range record.Headers {
			msg.Headers = append(msg.Headers, protocol.Header{Key: header.Key, Value: header.Value})
		}
		res.Messages = append(res.Messages, protocol.FetchedMessage{
			Offset:  req.Offset + int64(i),
			Message: msg,
		})
	}

	metrics.RecordFetch(req.Topic, req.Partition, len(records))
	return res.Write(conn)
}

// CreateTopicHandler registers a new topic.
type CreateTopicHandler struct{}

func (h *CreateTopicHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadCreateTopicRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.CreateTopicResponse{Name: req.Name}
	defer func() { recordError(protocol.CreateTopicRequestType, res.ErrorCode) }()

	topic, err := cs.broker.Metadata.CreateTopic(req.Name, &metadata.TopicConfig{Partitions: req.Partitions})
	if err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
		return res.Write(conn)
	}

	res.Partitions = topic.Config.Partitions
	return res.Write(conn)
}

// DeleteTopicHandler removes a topic and its data.
type DeleteTopicHandler struct{}

func (h *DeleteTopicHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadDeleteTopicRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.DeleteTopicResponse{}
	defer func() { recordError(protocol.DeleteTopicRequestType, res.ErrorCode) }()

	if err := cs.broker.Metadata.DeleteTopic(req.Name); err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
	}
	return res.Write(conn)
}

// ListTopicsHandler enumerates the broker's topics.
type ListTopicsHandler struct{}

func (h *ListTopicsHandler) Handle(conn net.Conn, cs *ClientServer) error {
	res := &protocol.ListTopicsResponse{}
	for _, info := range cs.broker.Metadata.ListTopics() {
		res.Topics = append(res.Topics, protocol.TopicSummary{
			Name:       info.Name,
			Partitions: info.Partitions,
			CreatedAt:  info.CreatedAt.UnixMilli(),
		})
	}
	return res.Write(conn)
}

// GetTopicInfoHandler reports per-partition offset ranges for one topic.
type GetTopicInfoHandler struct{}

func (h *GetTopicInfoHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadGetTopicInfoRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.GetTopicInfoResponse{Name: req.Name}
	defer func() { recordError(protocol.GetTopicInfoRequestType, res.ErrorCode) }()

	topic, exists := cs.broker.Metadata.GetTopic(req.Name)
	if !exists {
		res.ErrorCode = protocol.ErrorUnknownTopic
		return res.Write(conn)
	}

	for _, id := range topic.PartitionIDs() {
		partition := topic.Partitions[id]
		res.Partitions = append(res.Partitions, protocol.PartitionInfo{
			Partition:     id,
			LowWatermark:  partition.LowWatermark(),
			HighWatermark: partition.HighWatermark(),
			Segments:      int32(partition.SegmentCount()),
		})
	}
	return res.Write(conn)
}

// JoinGroupHandler registers a member and blocks until the rebalance window
// closes.
type JoinGroupHandler struct{}

func (h *JoinGroupHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadJoinGroupRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.JoinGroupResponse{GroupID: req.GroupID}
	defer func() { recordError(protocol.JoinGroupRequestType, res.ErrorCode) }()

	memberID := req.MemberID
	if memberID == "" {
		memberID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cs.broker.requestDeadline())
	defer cancel()

	result, err := cs.broker.Coordinator.JoinGroup(
		ctx, req.GroupID, memberID, req.ClientID, req.Topics, req.SessionTimeout)
	if err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
		res.MemberID = memberID
		return res.Write(conn)
	}

	res.Generation = result.Generation
	res.MemberID = result.MemberID
	res.Leader = result.Leader
	res.Assignment = result.Assignment
	for _, member := range result.Members {
		res.Members = append(res.Members, protocol.GroupMember{ID: member.ID, ClientID: member.ClientID})
	}

	metrics.RecordRebalance(req.GroupID, len(result.Members))
	return res.Write(conn)
}

// LeaveGroupHandler removes a member from its group.
type LeaveGroupHandler struct{}

func (h *LeaveGroupHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadLeaveGroupRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.LeaveGroupResponse{}
	defer func() { recordError(protocol.LeaveGroupRequestType, res.ErrorCode) }()

	if err := cs.broker.Coordinator.LeaveGroup(req.GroupID, req.MemberID); err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
	}
	return res.Write(conn)
}

// HeartbeatHandler refreshes a member's session.
type HeartbeatHandler struct{}

func (h *HeartbeatHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadHeartbeatRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.HeartbeatResponse{}
	defer func() { recordError(protocol.HeartbeatRequestType, res.ErrorCode) }()

	if err := cs.broker.Coordinator.Heartbeat(req.GroupID, req.MemberID, req.Generation); err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
	}
	return res.Write(conn)
}

// CommitOffsetHandler durably records a consumed offset.
type CommitOffsetHandler struct{}

func (h *CommitOffsetHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadCommitOffsetRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.CommitOffsetResponse{}
	defer func() { recordError(protocol.CommitOffsetRequestType, res.ErrorCode) }()

	err = cs.broker.Coordinator.CommitOffset(
		req.GroupID, req.MemberID, req.Topic, req.Partition, req.Offset, req.Generation)
	if err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
		return res.Write(conn)
	}

	metrics.OffsetCommits.WithLabelValues(req.GroupID, req.Topic).Inc()
	return res.Write(conn)
}

// FetchOffsetHandler reads a group's committed offset.
type FetchOffsetHandler struct{}

func (h *FetchOffsetHandler) Handle(conn net.Conn, cs *ClientServer) error {
	req, err := protocol.ReadFetchOffsetRequest(conn)
	if err != nil {
		return err
	}

	res := &protocol.FetchOffsetResponse{Offset: -1}
	defer func() { recordError(protocol.FetchOffsetRequestType, res.ErrorCode) }()

	offset, ok, err := cs.broker.Coordinator.FetchOffset(req.GroupID, req.Topic, req.Partition)
	if err != nil {
		res.ErrorCode = protocol.ErrorCodeFor(err)
		return res.Write(conn)
	}
	if ok {
		res.Offset = offset
	}
	return res.Write(conn)
}
