package client

import (
	"time"

	"github.com/kestrelmq/kestrel/internal/protocol"
)

// TopicDetail describes one topic from ListTopics.
type TopicDetail struct {
	Name       string
	Partitions int32
	CreatedAt  time.Time
}

// PartitionDetail describes the offset range held by one partition.
type PartitionDetail struct {
	Partition     int32
	LowWatermark  int64
	HighWatermark int64
	Segments      int32
}

// CreateTopic registers a topic with the given partition count.
func (c *Client) CreateTopic(name string, partitions int32) error {
	conn, err := c.dial(c.config.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &protocol.CreateTopicRequest{Name: name, Partitions: partitions}
	if err := req.Write(conn); err != nil {
		return err
	}

	res, err := protocol.ReadCreateTopicResponse(conn)
	if err != nil {
		return err
	}
	return codeError(res.ErrorCode)
}

// DeleteTopic removes a topic and all of its data.
func (c *Client) DeleteTopic(name string) error {
	conn, err := c.dial(c.config.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &protocol.DeleteTopicRequest{Name: name}
	if err := req.Write(conn); err != nil {
		return err
	}

	res, err := protocol.ReadDeleteTopicResponse(conn)
	if err != nil {
		return err
	}
	return codeError(res.ErrorCode)
}

// ListTopics enumerates the broker's topics.
func (c *Client) ListTopics() ([]TopicDetail, error) {
	conn, err := c.dial(c.config.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := &protocol.ListTopicsRequest{}
	if err := req.Write(conn); err != nil {
		return nil, err
	}

	res, err := protocol.ReadListTopicsResponse(conn)
	if err != nil {
		return nil, err
	}
	if err := codeError(res.ErrorCode); err != nil {
		return nil, err
	}

	topics := make([]TopicDetail, 0, len(res.Topics))
	for _, topic := range res.Topics {
		topics = append(topics, TopicDetail{
			Name:       topic.Name,
			Partitions: topic.Partitions,
			CreatedAt:  time.UnixMilli(topic.CreatedAt),
		})
	}
	return topics, nil
}

// GetTopicInfo reports per-partition offset ranges for one topic.
func (c *Client) GetTopicInfo(name string) ([]PartitionDetail, error) {
	conn, err := c.dial(c.config.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := &protocol.GetTopicInfoRequest{Name: name}
	if err := req.Write(conn); err != nil {
		return nil, err
	}

	res, err := protocol.ReadGetTopicInfoResponse(conn)
	if err != nil {
		return nil, err
	}
	if err := codeError(res.ErrorCode); err != nil {
		return nil, err
	}

	partitions := make([]PartitionDetail, 0, len(res.Partitions))
	for _, partition := range res.Partitions {
		partitions = append(partitions, PartitionDetail{
			Partition:     partition.Partition,
			LowWatermark:  partition.LowWatermark,
			HighWatermark: partition.HighWatermark,
			Segments:      partition.Segments,
		})
	}
	return partitions, nil
}

// partitionCount returns the number of partitions for a topic, for the
// producer's partitioners.
func (c *Client) partitionCount(topic string) (int32, error) {
	partitions, err := c.GetTopicInfo(topic)
	if err != nil {
		return 0, err
	}
	return int32(len(partitions)), nil
}
