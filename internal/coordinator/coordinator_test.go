package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/logging"
)

// staticTopics is a fixed topic catalog standing in for the metadata manager.
type staticTopics map[string][]int32

func (s staticTopics) TopicPartitions(topics []string) map[string][]int32 {
	result := make(map[string][]int32)
	for _, topic := range topics {
		if partitions, ok := s[topic]; ok {
			result[topic] = partitions
		}
	}
	return result
}

func testCoordinator(t *testing.T, topics staticTopics, config Config) *Coordinator {
	t.Helper()

	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	if err != nil {
		t.Fatalf("open pebble failed: %v", err)
	}

	logger, err := logging.New(logging.Config{Level: logging.LevelError})
	if err != nil {
		t.Fatalf("create logger failed: %v", err)
	}

	c := NewCoordinator(db, topics, config, logger)
	t.Cleanup(func() {
		c.Stop()
		db.Close()
	})
	return c
}

func fastConfig() Config {
	return Config{
		JoinWindow:          50 * time.Millisecond,
		SessionTimeout:      time.Minute,
		SweepInterval:       10 * time.Millisecond,
		EmptyGroupRetention: time.Hour,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustJoin(t *testing.T, c *Coordinator, groupID, memberID string, topics []string) *JoinResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := c.JoinGroup(ctx, groupID, memberID, "test-client", topics, 0)
	if err != nil {
		t.Fatalf("join %s failed: %v", memberID, err)
	}
	return result
}

func TestJoinGroupSingleMember(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0, 1, 2}}, fastConfig())

	result := mustJoin(t, c, "g1", "m1", []string{"orders"})

	if result.Generation != 1 {
		t.Errorf("first rebalance should produce generation 1, got %d", result.Generation)
	}
	if result.Leader != "m1" {
		t.Errorf("sole member should lead, got %q", result.Leader)
	}
	if len(result.Assignment["orders"]) != 3 {
		t.Errorf("sole member should own every partition, got %v", result.Assignment)
	}

	state, generation, ok := c.GroupState("g1")
	if !ok || state != GroupStateStable || generation != 1 {
		t.Errorf("expected Stable/1, got %v/%d (ok=%v)", state, generation, ok)
	}
}

func TestJoinGroupSplitsPartitions(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0, 1, 2, 3}}, fastConfig())

	var wg sync.WaitGroup
	results := make(map[string]*JoinResult)
	var mu sync.Mutex

	for _, memberID := range []string{"m1", "m2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result := mustJoin(t, c, "g1", id, []string{"orders"})
			mu.Lock()
			results[id] = result
			mu.Unlock()
		}(memberID)
	}
	wg.Wait()

	if results["m1"].Generation != results["m2"].Generation {
		t.Fatalf("members completed different generations: %d vs %d",
			results["m1"].Generation, results["m2"].Generation)
	}

	owned := make(map[int32]string)
	for id, result := range results {
		for _, partition := range result.Assignment["orders"] {
			if other, taken := owned[partition]; taken {
				t.Fatalf("partition %d owned by both %s and %s", partition, other, id)
			}
			owned[partition] = id
		}
	}
	if len(owned) != 4 {
		t.Errorf("expected all 4 partitions assigned, got %v", owned)
	}
}

func TestJoinGroupContextTimeout(t *testing.T) {
	config := fastConfig()
	config.JoinWindow = time.Second
	c := testCoordinator(t, staticTopics{"orders": {0}}, config)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.JoinGroup(ctx, "g1", "m1", "test-client", []string{"orders"}, 0)
	if typederrors.GetErrorType(err) != typederrors.TimeoutError {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestHeartbeatRefreshesSession(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0}}, fastConfig())
	result := mustJoin(t, c, "g1", "m1", []string{"orders"})

	if err := c.Heartbeat("g1", "m1", result.Generation); err != nil {
		t.Fatalf("heartbeat with current generation failed: %v", err)
	}
}

func TestHeartbeatStaleGeneration(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0}}, fastConfig())
	mustJoin(t, c, "g1", "m1", []string{"orders"})

	err := c.Heartbeat("g1", "m1", 0)
	if !typederrors.IsStaleGeneration(err) {
		t.Fatalf("expected StaleGeneration, got %v", err)
	}
}

func TestHeartbeatUnknownMember(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0}}, fastConfig())
	result := mustJoin(t, c, "g1", "m1", []string{"orders"})

	err := c.Heartbeat("g1", "ghost", result.Generation)
	if typederrors.GetErrorType(err) != typederrors.UnknownMemberError {
		t.Fatalf("expected UnknownMember, got %v", err)
	}
}

func TestHeartbeatDuringRebalance(t *testing.T) {
	config := fastConfig()
	config.JoinWindow = 300 * time.Millisecond
	c := testCoordinator(t, staticTopics{"orders": {0, 1}}, config)

	result := mustJoin(t, c, "g1", "m1", []string{"orders"})

	// A second joiner reopens the window; the stable member's heartbeat must
	// now tell it to rejoin.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.JoinGroup(ctx, "g1", "m2", "test-client", []string{"orders"}, 0); err != nil {
			t.Errorf("join m2 failed: %v", err)
		}
	}()
	waitFor(t, "rebalance to start", func() bool {
		state, _, _ := c.GroupState("g1")
		return state == GroupStatePreparingRebalance
	})

	err := c.Heartbeat("g1", "m1", result.Generation)
	if !typederrors.IsRebalanceInProgress(err) {
		t.Fatalf("expected RebalanceInProgress, got %v", err)
	}

	// Let the background join finish before the coordinator is torn down.
	waitFor(t, "rebalance to complete", func() bool {
		state, generation, _ := c.GroupState("g1")
		return state == GroupStateStable && generation == 2
	})
}

func TestCommitAndFetchOffset(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0, 1}}, fastConfig())
	result := mustJoin(t, c, "g1", "m1", []string{"orders"})

	if err := c.CommitOffset("g1", "m1", "orders", 0, 7, result.Generation); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	offset, ok, err := c.FetchOffset("g1", "orders", 0)
	if err != nil || !ok || offset != 7 {
		t.Errorf("expected (7, true), got (%d, %v, %v)", offset, ok, err)
	}

	if _, ok, _ := c.FetchOffset("g1", "orders", 1); ok {
		t.Error("uncommitted partition should report no offset")
	}
}

func TestCommitOffsetStaleGeneration(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0}}, fastConfig())
	result := mustJoin(t, c, "g1", "m1", []string{"orders"})

	err := c.CommitOffset("g1", "m1", "orders", 0, 7, result.Generation+1)
	if !typederrors.IsStaleGeneration(err) {
		t.Fatalf("expected StaleGeneration, got %v", err)
	}
	if _, ok, _ := c.FetchOffset("g1", "orders", 0); ok {
		t.Error("rejected commit must not change committed state")
	}
}

func TestCommitOffsetNotAssigned(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0, 1}}, fastConfig())
	result := mustJoin(t, c, "g1", "m1", []string{"orders"})

	err := c.CommitOffset("g1", "m1", "orders", 9, 7, result.Generation)
	if typederrors.GetErrorType(err) != typederrors.NotAssignedPartitionError {
		t.Fatalf("expected NotAssignedPartition, got %v", err)
	}
}

func TestLeaveGroupTriggersRebalance(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0, 1, 2, 3}}, fastConfig())

	var wg sync.WaitGroup
	for _, memberID := range []string{"m1", "m2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			mustJoin(t, c, "g1", id, []string{"orders"})
		}(memberID)
	}
	wg.Wait()

	if err := c.LeaveGroup("g1", "m1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	// The survivor picks up all partitions once the window closes.
	waitFor(t, "generation 2", func() bool {
		state, generation, _ := c.GroupState("g1")
		return state == GroupStateStable && generation == 2
	})
}

func TestLastLeaveMarksGroupEmpty(t *testing.T) {
	c := testCoordinator(t, staticTopics{"orders": {0}}, fastConfig())
	mustJoin(t, c, "g1", "m1", []string{"orders"})

	if err := c.LeaveGroup("g1", "m1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	state, _, ok := c.GroupState("g1")
	if !ok || state != GroupStateEmpty {
		t.Errorf("expected Empty after last member left, got %v", state)
	}
}

func TestSessionExpiryEvictsMember(t *testing.T) {
	config := fastConfig()
	c := testCoordinator(t, staticTopics{"orders": {0}}, config)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.JoinGroup(ctx, "g1", "m1", "test-client", []string{"orders"}, 100*time.Millisecond); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// No heartbeats: the sweep must evict the member and settle the group.
	waitFor(t, "member eviction", func() bool {
		state, _, ok := c.GroupState("g1")
		return ok && state == GroupStateEmpty
	})
}

func TestEmptyGroupRetentionDropsOffsets(t *testing.T) {
	config := fastConfig()
	config.EmptyGroupRetention = 30 * time.Millisecond
	c := testCoordinator(t, staticTopics{"orders": {0}}, config)

	result := mustJoin(t, c, "g1", "m1", []string{"orders"})
	if err := c.CommitOffset("g1", "m1", "orders", 0, 5, result.Generation); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if err := c.LeaveGroup("g1", "m1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	waitFor(t, "group to be dropped", func() bool {
		_, _, ok := c.GroupState("g1")
		return !ok
	})

	if _, ok, _ := c.FetchOffset("g1", "orders", 0); ok {
		t.Error("dropped group's offsets should be gone")
	}
}
