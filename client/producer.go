package client

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/kestrelmq/kestrel/internal/compression"
	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/protocol"
)

// PartitionStrategy selects which partition a message without an explicit
// partition lands on.
type PartitionStrategy int

const (
	// PartitionManual requires every message to name its partition.
	PartitionManual PartitionStrategy = iota
	// PartitionByKey hashes the message key; keyless messages fall back to
	// round-robin.
	PartitionByKey
	// PartitionRoundRobin rotates over partitions.
	PartitionRoundRobin
)

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Strategy PartitionStrategy
	// Compression names the codec applied to message values: none, gzip,
	// zlib, snappy, or zstd.
	Compression string
}

// ProducerMessage is one message to send.
type ProducerMessage struct {
	Topic string
	// Partition targets an explicit partition; -1 lets the strategy choose.
	Partition int32
	Key       []byte
	Value     []byte
	Headers   []protocol.Header
}

// Producer sends messages, batching per partition within one Send call.
type Producer struct {
	client      *Client
	strategy    PartitionStrategy
	compression compression.CompressionType

	mu         sync.Mutex
	partitions map[string]int32 // cached partition counts per topic
	counter    uint64
}

// NewProducer creates a producer on an existing client.
func NewProducer(client *Client, config ProducerConfig) (*Producer, error) {
	compressionType := compression.None
	if config.Compression != "" {
		var err error
		compressionType, err = compression.ParseType(config.Compression)
		if err != nil {
			return nil, err
		}
	}

	return &Producer{
		client:      client,
		strategy:    config.Strategy,
		compression: compressionType,
		partitions:  make(map[string]int32),
	}, nil
}

// Send delivers a batch of messages to one topic and returns the offset of
// the first message per partition batch sent.
func (p *Producer) Send(messages []ProducerMessage) (map[int32]int64, error) {
	if len(messages) == 0 {
		return nil, typederrors.NewTypedError(typederrors.GeneralError,
			"no messages to send", nil)
	}
	topic := messages[0].Topic

	batches := make(map[int32][]protocol.Message)
	for _, msg := range messages {
		if msg.Topic != topic {
			return nil, typederrors.NewTypedError(typederrors.GeneralError,
				"all messages in one send must target the same topic", nil)
		}

		partition, err := p.selectPartition(topic, msg)
		if err != nil {
			return nil, err
		}

		value := msg.Value
		if p.compression != compression.None {
			value, err = compression.CompressMessage(value, p.compression)
			if err != nil {
				return nil, err
			}
		}

		batches[partition] = append(batches[partition], protocol.Message{
			Key:     msg.Key,
			Value:   value,
			Headers: msg.Headers,
		})
	}

	baseOffsets := make(map[int32]int64, len(batches))
	for partition, batch := range batches {
		offset, err := p.sendBatch(topic, partition, batch)
		if err != nil {
			return baseOffsets, err
		}
		baseOffsets[partition] = offset
	}
	return baseOffsets, nil
}

// SendMessage delivers a single message and returns its offset.
func (p *Producer) SendMessage(msg ProducerMessage) (int64, error) {
	offsets, err := p.Send([]ProducerMessage{msg})
	if err != nil {
		return -1, err
	}
	for _, offset := range offsets {
		return offset, nil
	}
	return -1, nil
}

func (p *Producer) sendBatch(topic string, partition int32, batch []protocol.Message) (int64, error) {
	conn, err := p.client.dial(p.client.config.Timeout)
	if err != nil {
		return -1, err
	}
	defer conn.Close()

	req := &protocol.ProduceRequest{
		Topic:       topic,
		Partition:   partition,
		Compression: int8(p.compression),
		Messages:    batch,
	}
	if err := req.Write(conn); err != nil {
		return -1, err
	}

	res, err := protocol.ReadProduceResponse(conn)
	if err != nil {
		return -1, err
	}
	if err := codeError(res.ErrorCode); err != nil {
		return -1, err
	}
	return res.BaseOffset, nil
}

func (p *Producer) selectPartition(topic string, msg ProducerMessage) (int32, error) {
	if msg.Partition >= 0 {
		return msg.Partition, nil
	}
	if p.strategy == PartitionManual {
		return 0, typederrors.NewTypedError(typederrors.GeneralError,
			"manual partitioning requires an explicit partition", nil)
	}

	count, err := p.topicPartitions(topic)
	if err != nil {
		return 0, err
	}

	if p.strategy == PartitionByKey && len(msg.Key) > 0 {
		h := fnv.New32a()
		h.Write(msg.Key)
		return int32(h.Sum32() % uint32(count)), nil
	}

	next := atomic.AddUint64(&p.counter, 1)
	return int32(next % uint64(count)), nil
}

func (p *Producer) topicPartitions(topic string) (int32, error) {
	p.mu.Lock()
	count, cached := p.partitions[topic]
	p.mu.Unlock()
	if cached {
		return count, nil
	}

	count, err := p.client.partitionCount(topic)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, typederrors.NewTypedError(typederrors.UnknownTopicError,
			"topic has no partitions", nil)
	}

	p.mu.Lock()
	p.partitions[topic] = count
	p.mu.Unlock()
	return count, nil
}
