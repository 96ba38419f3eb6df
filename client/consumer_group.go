package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/protocol"
)

// GroupConsumerConfig configures a consumer group member.
type GroupConsumerConfig struct {
	GroupID  string
	ClientID string
	Topics   []string
	// SessionTimeout is how long the coordinator waits for heartbeats before
	// expiring this member.
	SessionTimeout time.Duration
	// HeartbeatInterval is how often heartbeats are sent. Defaults to a
	// third of the session timeout.
	HeartbeatInterval time.Duration
	// FetchMaxBytes bounds each fetch.
	FetchMaxBytes int32
	// PollInterval is the wait between fetches when caught up.
	PollInterval time.Duration
}

// GroupConsumer is one member of a consumer group. Join blocks through the
// coordinator's rebalance window; Consume then fetches the assigned
// partitions, heartbeats, commits after the handler returns, and rejoins
// automatically when a rebalance invalidates the current generation.
type GroupConsumer struct {
	client *Client
	config GroupConsumerConfig

	memberID string

	mu         sync.Mutex
	generation int32
	assignment map[string][]int32
	positions  map[string]map[int32]int64
	joined     bool
}

// NewGroupConsumer creates a group member with a fresh member ID.
func NewGroupConsumer(client *Client, config GroupConsumerConfig) *GroupConsumer {
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.SessionTimeout / 3
	}
	if config.FetchMaxBytes <= 0 {
		config.FetchMaxBytes = protocol.DefaultMaxFetchBytes
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 200 * time.Millisecond
	}

	return &GroupConsumer{
		client:   client,
		config:   config,
		memberID: uuid.New().String(),
	}
}

// MemberID returns this member's ID.
func (g *GroupConsumer) MemberID() string {
	return g.memberID
}

// Generation returns the generation of the last successful join.
func (g *GroupConsumer) Generation() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// Assignment returns the partitions assigned at the last successful join.
func (g *GroupConsumer) Assignment() map[string][]int32 {
	g.mu.Lock()
	defer g.mu.Unlock()

	assignment := make(map[string][]int32, len(g.assignment))
	for topic, partitions := range g.assignment {
		assignment[topic] = append([]int32(nil), partitions...)
	}
	return assignment
}

// Join registers with the coordinator and blocks until the rebalance window
// closes. Fetch positions resume from committed offsets, or zero where the
// group has never committed.
func (g *GroupConsumer) Join() error {
	// The join response only arrives once the coordinator's window fires,
	// so give it more room than a regular request.
	timeout := g.client.config.Timeout
	if timeout < 30*time.Second {
		timeout = 30 * time.Second
	}
	conn, err := g.client.dial(timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &protocol.JoinGroupRequest{
		GroupID:        g.config.GroupID,
		MemberID:       g.memberID,
		ClientID:       g.config.ClientID,
		Topics:         g.config.Topics,
		SessionTimeout: g.config.SessionTimeout,
	}
	if err := req.Write(conn); err != nil {
		return err
	}

	res, err := protocol.ReadJoinGroupResponse(conn)
	if err != nil {
		return err
	}
	if err := codeError(res.ErrorCode); err != nil {
		return err
	}

	positions := make(map[string]map[int32]int64, len(res.Assignment))
	for topic, partitions := range res.Assignment {
		positions[topic] = make(map[int32]int64, len(partitions))
		for _, partition := range partitions {
			committed, ok, err := g.Committed(topic, partition)
			if err != nil {
				return err
			}
			if ok {
				positions[topic][partition] = committed + 1
			} else {
				positions[topic][partition] = 0
			}
		}
	}

	g.mu.Lock()
	g.memberID = res.MemberID
	g.generation = res.Generation
	g.assignment = res.Assignment
	g.positions = positions
	g.joined = true
	g.mu.Unlock()

	return nil
}

// Leave removes this member from the group.
func (g *GroupConsumer) Leave() error {
	g.mu.Lock()
	g.joined = false
	g.mu.Unlock()

	conn, err := g.client.dial(g.client.config.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &protocol.LeaveGroupRequest{GroupID: g.config.GroupID, MemberID: g.memberID}
	if err := req.Write(conn); err != nil {
		return err
	}

	res, err := protocol.ReadLeaveGroupResponse(conn)
	if err != nil {
		return err
	}
	return codeError(res.ErrorCode)
}

// Heartbeat refreshes the member's session for the current generation.
func (g *GroupConsumer) Heartbeat() error {
	conn, err := g.client.dial(g.client.config.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &protocol.HeartbeatRequest{
		GroupID:    g.config.GroupID,
		MemberID:   g.memberID,
		Generation: g.Generation(),
	}
	if err := req.Write(conn); err != nil {
		return err
	}

	res, err := protocol.ReadHeartbeatResponse(conn)
	if err != nil {
		return err
	}
	return codeError(res.ErrorCode)
}

// Commit durably records offset as consumed for one assigned partition.
func (g *GroupConsumer) Commit(topic string, partition int32, offset int64) error {
	conn, err := g.client.dial(g.client.config.Timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := &protocol.CommitOffsetRequest{
		GroupID:    g.config.GroupID,
		MemberID:   g.memberID,
		Topic:      topic,
		Partition:  partition,
		Offset:     offset,
		Generation: g.Generation(),
	}
	if err := req.Write(conn); err != nil {
		return err
	}

	res, err := protocol.ReadCommitOffsetResponse(conn)
	if err != nil {
		return err
	}
	return codeError(res.ErrorCode)
}

// Committed returns the group's committed offset for one partition, with
// ok=false when nothing has been committed.
func (g *GroupConsumer) Committed(topic string, partition int32) (int64, bool, error) {
	conn, err := g.client.dial(g.client.config.Timeout)
	if err != nil {
		return -1, false, err
	}
	defer conn.Close()

	req := &protocol.FetchOffsetRequest{
		GroupID:   g.config.GroupID,
		Topic:     topic,
		Partition: partition,
	}
	if err := req.Write(conn); err != nil {
		return -1, false, err
	}

	res, err := protocol.ReadFetchOffsetResponse(conn)
	if err != nil {
		return -1, false, err
	}
	if err := codeError(res.ErrorCode); err != nil {
		return -1, false, err
	}
	return res.Offset, res.Offset >= 0, nil
}

// Consume runs the member loop until ctx is cancelled: join, heartbeat,
// fetch the assigned partitions in order, hand each message to handler, and
// commit its offset once the handler returns nil. Rebalance and stale
// generation errors trigger a rejoin. Delivery is at-least-once: a crash
// between handling and committing replays the message.
func (g *GroupConsumer) Consume(ctx context.Context, handler func(ConsumedMessage) error) error {
	defer g.Leave()

	consumer := NewConsumer(g.client)
	heartbeats := time.NewTicker(g.config.HeartbeatInterval)
	defer heartbeats.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if !g.isJoined() {
			if err := g.Join(); err != nil {
				if needsRejoin(err) {
					continue
				}
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-heartbeats.C:
			if err := g.Heartbeat(); err != nil {
				if needsRejoin(err) {
					g.markUnjoined()
					continue
				}
				return err
			}
		default:
		}

		fetched, err := g.pollOnce(consumer, handler)
		if err != nil {
			if needsRejoin(err) {
				g.markUnjoined()
				continue
			}
			return err
		}
		if fetched == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(g.config.PollInterval):
			}
		}
	}
}

// pollOnce fetches each assigned partition once and commits handled offsets.
func (g *GroupConsumer) pollOnce(consumer *Consumer, handler func(ConsumedMessage) error) (int, error) {
	assignment := g.Assignment()

	topics := make([]string, 0, len(assignment))
	for topic := range assignment {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var fetched int
	for _, topic := range topics {
		for _, partition := range assignment[topic] {
			position := g.position(topic, partition)

			result, err := consumer.Fetch(topic, partition, position, g.config.FetchMaxBytes)
			if err != nil {
				if typederrors.IsOffsetOutOfRange(err) {
					// Retention moved past our position; resume from the
					// earliest retained offset.
					if low, lerr := g.lowWatermark(topic, partition); lerr == nil {
						g.setPosition(topic, partition, low)
					}
					continue
				}
				return fetched, err
			}

			for _, msg := range result.Messages {
				if err := handler(msg); err != nil {
					return fetched, err
				}
				if err := g.Commit(topic, partition, msg.Offset); err != nil {
					return fetched, err
				}
			}

			fetched += len(result.Messages)
			g.setPosition(topic, partition, result.NextOffset)
		}
	}
	return fetched, nil
}

func (g *GroupConsumer) isJoined() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.joined
}

func (g *GroupConsumer) markUnjoined() {
	g.mu.Lock()
	g.joined = false
	g.mu.Unlock()
}

// lowWatermark asks the broker for the earliest retained offset.
func (g *GroupConsumer) lowWatermark(topic string, partition int32) (int64, error) {
	details, err := g.client.GetTopicInfo(topic)
	if err != nil {
		return 0, err
	}
	for _, detail := range details {
		if detail.Partition == partition {
			return detail.LowWatermark, nil
		}
	}
	return 0, nil
}

func (g *GroupConsumer) position(topic string, partition int32) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if partitions, ok := g.positions[topic]; ok {
		if position, ok := partitions[partition]; ok && position >= 0 {
			return position
		}
	}
	return 0
}

func (g *GroupConsumer) setPosition(topic string, partition int32, position int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if partitions, ok := g.positions[topic]; ok {
		partitions[partition] = position
	}
}

// needsRejoin reports whether the error means this member must go through
// another join round rather than give up.
func needsRejoin(err error) bool {
	return typederrors.IsRebalanceInProgress(err) ||
		typederrors.IsStaleGeneration(err) ||
		typederrors.GetErrorType(err) == typederrors.UnknownMemberError
}
