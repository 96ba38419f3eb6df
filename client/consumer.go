package client

import (
	"errors"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/protocol"
)

// ConsumedMessage is one fetched message with its offset.
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp int64
	Headers   []protocol.Header
}

// FetchResult is the outcome of one fetch.
type FetchResult struct {
	Messages []ConsumedMessage
	// NextOffset is where the next fetch should start.
	NextOffset int64
	// HighWatermark is one past the last appended offset.
	HighWatermark int64
}

// Consumer fetches messages by explicit offset, outside any group.
type Consumer struct {
	client *Client
}

// NewConsumer creates a consumer on an existing client.
func NewConsumer(client *Client) *Consumer {
	return &Consumer{client: client}
}

// Fetch reads up to maxBytes of messages starting at offset. A result with
// no messages and no error means the consumer is caught up.
func (c *Consumer) Fetch(topic string, partition int32, offset int64, maxBytes int32) (*FetchResult, error) {
	conn, err := c.client.dial(c.client.config.Timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := &protocol.FetchRequest{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		MaxBytes:  maxBytes,
	}
	if err := req.Write(conn); err != nil {
		return nil, err
	}

	res, err := protocol.ReadFetchResponse(conn)
	if err != nil {
		return nil, err
	}
	if err := codeError(res.ErrorCode); err != nil {
		// On a corruption error the broker reports the last readable offset
		// in NextOffset; surface it on the typed error.
		var typed *typederrors.TypedError
		if typederrors.IsDataCorruption(err) && errors.As(err, &typed) {
			typed.WithTopic(topic, partition).WithOffset(res.NextOffset)
		}
		return nil, err
	}

	result := &FetchResult{
		NextOffset:    res.NextOffset,
		HighWatermark: res.HighWatermark,
	}
	for _, fm := range res.Messages {
		result.Messages = append(result.Messages, ConsumedMessage{
			Topic:     topic,
			Partition: partition,
			Offset:    fm.Offset,
			Key:       fm.Message.Key,
			Value:     fm.Message.Value,
			Timestamp: fm.Message.Timestamp,
			Headers:   fm.Message.Headers,
		})
	}
	return result, nil
}
