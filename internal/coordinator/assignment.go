package coordinator

import "sort"

// roundRobinAssignment deterministically spreads partitions over members:
// members are sorted by member ID (the tie-break rule), topics are walked in
// sorted order, and partition i of a topic goes to member i mod N. The same
// inputs always produce the same assignment, and no partition ever lands on
// two members.
func roundRobinAssignment(memberIDs []string, topicPartitions map[string][]int32) map[string]map[string][]int32 {
	assignment := make(map[string]map[string][]int32, len(memberIDs))
	for _, id := range memberIDs {
		assignment[id] = make(map[string][]int32)
	}
	if len(memberIDs) == 0 {
		return assignment
	}

	sorted := make([]string, len(memberIDs))
	copy(sorted, memberIDs)
	sort.Strings(sorted)

	topics := make([]string, 0, len(topicPartitions))
	for topic := range topicPartitions {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	for _, topic := range topics {
		partitions := append([]int32(nil), topicPartitions[topic]...)
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

		for i, partition := range partitions {
			member := sorted[i%len(sorted)]
			assignment[member][topic] = append(assignment[member][topic], partition)
		}
	}

	return assignment
}
