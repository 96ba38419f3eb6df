package coordinator

import (
	"reflect"
	"testing"
)

func TestRoundRobinAssignsBySortedMemberOrder(t *testing.T) {
	// Member order in the input must not matter: sorting by ID decides.
	assignment := roundRobinAssignment(
		[]string{"m-b", "m-a"},
		map[string][]int32{"orders": {0, 1, 2, 3}},
	)

	if got := assignment["m-a"]["orders"]; !reflect.DeepEqual(got, []int32{0, 2}) {
		t.Errorf("m-a: got %v, want [0 2]", got)
	}
	if got := assignment["m-b"]["orders"]; !reflect.DeepEqual(got, []int32{1, 3}) {
		t.Errorf("m-b: got %v, want [1 3]", got)
	}
}

func TestRoundRobinIsDeterministic(t *testing.T) {
	members := []string{"m-3", "m-1", "m-2"}
	topics := map[string][]int32{
		"orders":   {2, 0, 1},
		"payments": {0, 1},
	}

	first := roundRobinAssignment(members, topics)
	second := roundRobinAssignment(members, topics)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same inputs produced different assignments:\n%v\n%v", first, second)
	}
}

func TestRoundRobinNeverDoubleAssigns(t *testing.T) {
	members := []string{"m-1", "m-2", "m-3"}
	topics := map[string][]int32{
		"a": {0, 1, 2, 3, 4},
		"b": {0, 1},
		"c": {0, 1, 2, 3, 4, 5, 6},
	}

	assignment := roundRobinAssignment(members, topics)

	seen := make(map[string]map[int32]string)
	for member, perTopic := range assignment {
		for topic, partitions := range perTopic {
			if seen[topic] == nil {
				seen[topic] = make(map[int32]string)
			}
			for _, partition := range partitions {
				if owner, taken := seen[topic][partition]; taken {
					t.Fatalf("%s/%d assigned to both %s and %s", topic, partition, owner, member)
				}
				seen[topic][partition] = member
			}
		}
	}

	for topic, partitions := range topics {
		if len(seen[topic]) != len(partitions) {
			t.Errorf("topic %s: %d of %d partitions assigned", topic, len(seen[topic]), len(partitions))
		}
	}
}

func TestRoundRobinMoreMembersThanPartitions(t *testing.T) {
	assignment := roundRobinAssignment(
		[]string{"m-1", "m-2", "m-3"},
		map[string][]int32{"small": {0}},
	)

	if got := assignment["m-1"]["small"]; !reflect.DeepEqual(got, []int32{0}) {
		t.Errorf("m-1 should own the only partition, got %v", got)
	}
	if len(assignment["m-2"]) != 0 || len(assignment["m-3"]) != 0 {
		t.Errorf("surplus members should get empty assignments: %v", assignment)
	}
}
