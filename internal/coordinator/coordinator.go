package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/logging"
)

// TopicLister resolves the partitions behind a set of subscribed topics.
// Implemented by the metadata manager.
type TopicLister interface {
	TopicPartitions(topics []string) map[string][]int32
}

// Config tunes the rebalance protocol.
type Config struct {
	// JoinWindow is how long the coordinator waits for members to (re)join
	// once a rebalance starts. Fixed from the first join; later joins do
	// not extend it.
	JoinWindow time.Duration
	// SessionTimeout is the default heartbeat liveness window for members
	// that do not request their own.
	SessionTimeout time.Duration
	// SweepInterval is how often expired members and stale empty groups
	// are collected.
	SweepInterval time.Duration
	// EmptyGroupRetention is how long an empty group is kept before its
	// state (including committed offsets) is dropped.
	EmptyGroupRetention time.Duration
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		JoinWindow:          3 * time.Second,
		SessionTimeout:      30 * time.Second,
		SweepInterval:       time.Second,
		EmptyGroupRetention: time.Hour,
	}
}

// Coordinator tracks consumer groups, runs the rebalance state machine
// (Empty -> PreparingRebalance -> CompletingRebalance -> Stable), and owns
// the durable committed-offset table. A partition is owned by exactly one
// live member of a group at a time: consumption pauses during the rebalance
// window, by design.
type Coordinator struct {
	mu     sync.RWMutex
	groups map[string]*Group

	offsets *OffsetStore
	topics  TopicLister
	config  Config
	logger  *logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCoordinator creates the coordinator and starts its liveness sweep.
func NewCoordinator(db *pebble.DB, topics TopicLister, config Config, logger *logging.Logger) *Coordinator {
	if config.JoinWindow <= 0 {
		config.JoinWindow = DefaultConfig().JoinWindow
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = DefaultConfig().SessionTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	if config.EmptyGroupRetention <= 0 {
		config.EmptyGroupRetention = DefaultConfig().EmptyGroupRetention
	}

	c := &Coordinator{
		groups:  make(map[string]*Group),
		offsets: NewOffsetStore(db),
		topics:  topics,
		config:  config,
		logger:  logger.WithComponent("coordinator"),
		stopCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// Stop halts the background sweep. Pending joins are failed by their own
// deadlines.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Coordinator) getOrCreateGroup(groupID string) *Group {
	c.mu.Lock()
	defer c.mu.Unlock()

	group, exists := c.groups[groupID]
	if !exists {
		group = newGroup(groupID)
		c.groups[groupID] = group
	}
	return group
}

func (c *Coordinator) getGroup(groupID string) (*Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	group, exists := c.groups[groupID]
	return group, exists
}

// JoinGroup registers the member and blocks until the rebalance window
// closes and the new assignment is computed, or until ctx expires. A waiter
// whose ctx fires first leaves its registration behind: the member holds no
// assignment and sends no heartbeats, so the session sweep evicts it after
// its session timeout and triggers the usual rebalance. Callers that gave up
// may rejoin with the same member ID at any time; the stale registration is
// simply refreshed.
func (c *Coordinator) JoinGroup(ctx context.Context, groupID, memberID, clientID string, topics []string, sessionTimeout time.Duration) (*JoinResult, error) {
	if sessionTimeout <= 0 {
		sessionTimeout = c.config.SessionTimeout
	}

	group := c.getOrCreateGroup(groupID)

	group.mu.Lock()
	group.members[memberID] = &Member{
		ID:             memberID,
		ClientID:       clientID,
		Subscriptions:  topics,
		Assignment:     make(map[string][]int32),
		LastHeartbeat:  time.Now(),
		SessionTimeout: sessionTimeout,
		JoinedAt:       time.Now(),
	}
	group.electLeader()
	group.updatedAt = time.Now()
	c.prepareRebalanceLocked(group)
	done := group.rebalanceDone
	group.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, typederrors.NewTypedError(typederrors.TimeoutError,
			"timed out waiting for rebalance window", ctx.Err()).WithGeneration(group.Generation())
	}

	group.mu.Lock()
	defer group.mu.Unlock()

	member, ok := group.members[memberID]
	if !ok {
		return nil, typederrors.NewTypedError(typederrors.UnknownMemberError,
			fmt.Sprintf("member %q was removed during rebalance", memberID), nil)
	}

	result := &JoinResult{
		GroupID:    groupID,
		MemberID:   memberID,
		Generation: group.generation,
		Leader:     group.leader,
		Assignment: member.Assignment,
	}
	for _, m := range group.members {
		result.Members = append(result.Members, MemberInfo{ID: m.ID, ClientID: m.ClientID})
	}
	return result, nil
}

// prepareRebalanceLocked moves the group to PreparingRebalance and arms the
// join-window timer. The window is fixed from the transition that opened it;
// joins landing inside an open window neither reset nor extend it. Group
// lock held.
func (c *Coordinator) prepareRebalanceLocked(group *Group) {
	if group.state == GroupStatePreparingRebalance {
		return
	}

	group.state = GroupStatePreparingRebalance
	group.rebalanceDone = make(chan struct{})
	group.windowTimer = time.AfterFunc(c.config.JoinWindow, func() {
		c.completeRebalance(group)
	})

	c.logger.RebalanceEvent(group.ID, group.generation, group.state.String(),
		map[string]any{"members": len(group.members)})
}

// completeRebalance fires when the join window expires: it computes the new
// deterministic assignment, increments the generation, and releases every
// blocked joiner.
func (c *Coordinator) completeRebalance(group *Group) {
	group.mu.Lock()
	defer group.mu.Unlock()

	if group.state != GroupStatePreparingRebalance {
		return
	}
	group.state = GroupStateCompletingRebalance

	if len(group.members) == 0 {
		group.state = GroupStateEmpty
		group.updatedAt = time.Now()
		close(group.rebalanceDone)
		return
	}

	memberIDs := make([]string, 0, len(group.members))
	topicSet := make(map[string]struct{})
	for id, member := range group.members {
		memberIDs = append(memberIDs, id)
		for _, topic := range member.Subscriptions {
			topicSet[topic] = struct{}{}
		}
	}
	topics := make([]string, 0, len(topicSet))
	for topic := range topicSet {
		topics = append(topics, topic)
	}

	assignment := roundRobinAssignment(memberIDs, c.topics.TopicPartitions(topics))
	for id, member := range group.members {
		member.Assignment = assignment[id]
	}

	group.generation++
	group.state = GroupStateStable
	group.electLeader()
	group.updatedAt = time.Now()
	close(group.rebalanceDone)

	c.logger.RebalanceEvent(group.ID, group.generation, group.state.String(),
		map[string]any{"members": len(group.members)})
}

// Heartbeat refreshes the member's liveness timer. A stale generation or an
// unknown member is rejected outright; during a rebalance the member is told
// to rejoin.
func (c *Coordinator) Heartbeat(groupID, memberID string, generation int32) error {
	group, exists := c.getGroup(groupID)
	if !exists {
		return typederrors.NewTypedError(typederrors.UnknownMemberError,
			fmt.Sprintf("group %q not found", groupID), nil)
	}

	group.mu.Lock()
	defer group.mu.Unlock()

	if generation != group.generation {
		return typederrors.NewTypedError(typederrors.StaleGenerationError,
			fmt.Sprintf("generation %d is stale, current is %d", generation, group.generation), nil).
			WithGeneration(group.generation)
	}

	member, exists := group.members[memberID]
	if !exists {
		return typederrors.NewTypedError(typederrors.UnknownMemberError,
			fmt.Sprintf("member %q not in group %q", memberID, groupID), nil).
			WithGeneration(group.generation)
	}

	if group.state == GroupStatePreparingRebalance {
		return typederrors.NewTypedError(typederrors.RebalanceInProgressError,
			"rebalance in progress, rejoin the group", nil).WithGeneration(group.generation)
	}

	member.LastHeartbeat = time.Now()
	return nil
}

// LeaveGroup removes the member and forces a rebalance for the remaining
// members, even from Stable.
func (c *Coordinator) LeaveGroup(groupID, memberID string) error {
	group, exists := c.getGroup(groupID)
	if !exists {
		return typederrors.NewTypedError(typederrors.UnknownMemberError,
			fmt.Sprintf("group %q not found", groupID), nil)
	}

	group.mu.Lock()
	defer group.mu.Unlock()

	if _, exists := group.members[memberID]; !exists {
		return typederrors.NewTypedError(typederrors.UnknownMemberError,
			fmt.Sprintf("member %q not in group %q", memberID, groupID), nil)
	}

	delete(group.members, memberID)
	group.electLeader()
	group.updatedAt = time.Now()

	if len(group.members) == 0 {
		c.markEmptyLocked(group)
	} else {
		c.prepareRebalanceLocked(group)
	}

	c.logger.WithGroup(groupID).Info("Member left", "member", memberID, "remaining", len(group.members))
	return nil
}

// markEmptyLocked settles a memberless group. An open rebalance window is
// cancelled and its waiters released. Group lock held.
func (c *Coordinator) markEmptyLocked(group *Group) {
	if group.state == GroupStatePreparingRebalance {
		if group.windowTimer != nil {
			group.windowTimer.Stop()
		}
		close(group.rebalanceDone)
	}
	group.state = GroupStateEmpty
}

// CommitOffset validates generation and ownership, then durably records the
// committed offset. A rejected commit has no side effect on committed state.
func (c *Coordinator) CommitOffset(groupID, memberID, topic string, partition int32, offset int64, generation int32) error {
	group, exists := c.getGroup(groupID)
	if !exists {
		return typederrors.NewTypedError(typederrors.UnknownMemberError,
			fmt.Sprintf("group %q not found", groupID), nil)
	}

	group.mu.Lock()

	if generation != group.generation {
		current := group.generation
		group.mu.Unlock()
		return typederrors.NewTypedError(typederrors.StaleGenerationError,
			fmt.Sprintf("generation %d is stale, current is %d", generation, current), nil).
			WithTopic(topic, partition).WithGeneration(current)
	}

	member, exists := group.members[memberID]
	if !exists {
		current := group.generation
		group.mu.Unlock()
		return typederrors.NewTypedError(typederrors.UnknownMemberError,
			fmt.Sprintf("member %q not in group %q", memberID, groupID), nil).
			WithTopic(topic, partition).WithGeneration(current)
	}

	if group.state != GroupStateStable {
		current := group.generation
		group.mu.Unlock()
		return typederrors.NewTypedError(typederrors.RebalanceInProgressError,
			"rebalance in progress, commit after rejoining", nil).
			WithTopic(topic, partition).WithGeneration(current)
	}

	owned := false
	for _, p := range member.Assignment[topic] {
		if p == partition {
			owned = true
			break
		}
	}
	current := group.generation
	group.mu.Unlock()

	if !owned {
		return typederrors.NewTypedError(typederrors.NotAssignedPartitionError,
			fmt.Sprintf("partition not assigned to member %q", memberID), nil).
			WithTopic(topic, partition).WithGeneration(current)
	}

	return c.offsets.Commit(groupID, topic, partition, offset)
}

// FetchOffset returns the group's committed offset for the partition, with
// ok=false when nothing has been committed yet.
func (c *Coordinator) FetchOffset(groupID, topic string, partition int32) (int64, bool, error) {
	return c.offsets.Fetch(groupID, topic, partition)
}

// GroupState reports the current state for one group, for introspection and
// tests.
func (c *Coordinator) GroupState(groupID string) (GroupState, int32, bool) {
	group, exists := c.getGroup(groupID)
	if !exists {
		return GroupStateEmpty, 0, false
	}
	group.mu.Lock()
	defer group.mu.Unlock()
	return group.state, group.generation, true
}

// sweepLoop periodically expires members that stopped heartbeating and
// drops groups that have sat empty past the retention window.
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) sweepExpired() {
	c.mu.RLock()
	groups := make([]*Group, 0, len(c.groups))
	for _, group := range c.groups {
		groups = append(groups, group)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, group := range groups {
		group.mu.Lock()

		var expired []string
		for id, member := range group.members {
			if now.Sub(member.LastHeartbeat) > member.SessionTimeout {
				expired = append(expired, id)
			}
		}
		for _, id := range expired {
			delete(group.members, id)
			c.logger.WithGroup(group.ID).Warn("Member session expired", "member", id)
		}

		if len(expired) > 0 {
			group.electLeader()
			group.updatedAt = now
			if len(group.members) == 0 {
				c.markEmptyLocked(group)
			} else {
				c.prepareRebalanceLocked(group)
			}
		}

		emptyTooLong := group.state == GroupStateEmpty &&
			now.Sub(group.updatedAt) > c.config.EmptyGroupRetention
		group.mu.Unlock()

		if emptyTooLong {
			c.mu.Lock()
			delete(c.groups, group.ID)
			c.mu.Unlock()
			if err := c.offsets.DeleteGroup(group.ID); err != nil {
				c.logger.WithGroup(group.ID).Warn("Failed to drop group offsets", "error", err)
			}
			c.logger.WithGroup(group.ID).Info("Dropped empty group")
		}
	}
}
