package coordinator

import (
	"sync"
	"time"
)

// GroupState is the rebalance state of one consumer group.
type GroupState int32

const (
	GroupStateEmpty GroupState = iota
	GroupStatePreparingRebalance
	GroupStateCompletingRebalance
	GroupStateStable
)

func (s GroupState) String() string {
	switch s {
	case GroupStateEmpty:
		return "Empty"
	case GroupStatePreparingRebalance:
		return "PreparingRebalance"
	case GroupStateCompletingRebalance:
		return "CompletingRebalance"
	case GroupStateStable:
		return "Stable"
	default:
		return "Unknown"
	}
}

// Member is one consumer in a group.
type Member struct {
	ID             string
	ClientID       string
	Subscriptions  []string
	Assignment     map[string][]int32
	LastHeartbeat  time.Time
	SessionTimeout time.Duration
	JoinedAt       time.Time
}

// Group holds the membership and rebalance state of one consumer group.
// Every transition is serialized through mu; different groups rebalance
// fully independently.
type Group struct {
	ID string

	mu         sync.Mutex
	state      GroupState
	generation int32
	members    map[string]*Member
	leader     string

	// rebalanceDone is closed when the in-flight rebalance completes.
	// Joiners block on it; a fresh channel is made per rebalance.
	rebalanceDone chan struct{}
	windowTimer   *time.Timer
	updatedAt     time.Time
}

func newGroup(id string) *Group {
	return &Group{
		ID:        id,
		state:     GroupStateEmpty,
		members:   make(map[string]*Member),
		updatedAt: time.Now(),
	}
}

// State returns the group's current rebalance state.
func (g *Group) State() GroupState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Generation returns the group's current rebalance epoch.
func (g *Group) Generation() int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// MemberIDs returns the current member IDs, unordered.
func (g *Group) MemberIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	return ids
}

// electLeader keeps the leader pointing at a live member. mu held.
func (g *Group) electLeader() {
	if _, ok := g.members[g.leader]; ok {
		return
	}
	g.leader = ""
	for id := range g.members {
		if g.leader == "" || id < g.leader {
			g.leader = id
		}
	}
}

// MemberInfo is the read-only member description returned from a join.
type MemberInfo struct {
	ID       string
	ClientID string
}

// JoinResult is handed to a joiner once the rebalance window closes.
type JoinResult struct {
	GroupID    string
	MemberID   string
	Generation int32
	Leader     string
	Members    []MemberInfo
	Assignment map[string][]int32
}
