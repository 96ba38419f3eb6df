package protocol

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
	"time"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
)

// consumeHeader reads the request type and version the way the broker's
// dispatcher does, returning the type for assertion.
func consumeHeader(t *testing.T, r *bytes.Reader) int32 {
	t.Helper()
	var requestType int32
	if err := binary.Read(r, binary.BigEndian, &requestType); err != nil {
		t.Fatalf("read request type failed: %v", err)
	}
	var version int16
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		t.Fatalf("read version failed: %v", err)
	}
	if version != ProtocolVersion {
		t.Fatalf("expected version %d, got %d", ProtocolVersion, version)
	}
	return requestType
}

func TestProduceRequestRoundTrip(t *testing.T) {
	req := &ProduceRequest{
		Topic:     "orders",
		Partition: 2,
		Messages: []Message{
			{Key: []byte("k1"), Value: []byte("v1"), Timestamp: 1700000000000,
				Headers: []Header{{Key: "trace", Value: []byte("t-1")}}},
			{Value: []byte("v2")},
		},
	}

	buf := new(bytes.Buffer)
	if err := req.Write(buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	r := bytes.NewReader(buf.Bytes())
	if requestType := consumeHeader(t, r); requestType != ProduceRequestType {
		t.Fatalf("expected produce request type, got %d", requestType)
	}

	decoded, err := ReadProduceRequest(r)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if decoded.Topic != "orders" || decoded.Partition != 2 {
		t.Errorf("addressing mismatch: %q/%d", decoded.Topic, decoded.Partition)
	}
	if len(decoded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(decoded.Messages))
	}
	if !bytes.Equal(decoded.Messages[0].Key, []byte("k1")) ||
		decoded.Messages[0].Timestamp != 1700000000000 {
		t.Errorf("first message mismatch: %+v", decoded.Messages[0])
	}
	if decoded.Messages[0].Headers[0].Key != "trace" {
		t.Errorf("header mismatch: %+v", decoded.Messages[0].Headers)
	}
	if decoded.Messages[1].Key != nil {
		t.Errorf("nil key should survive the wire, got %q", decoded.Messages[1].Key)
	}
}

func TestFetchRequestClampsMaxBytes(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   int32
		want int32
	}{
		{"zero gets default", 0, DefaultMaxFetchBytes},
		{"negative gets default", -5, DefaultMaxFetchBytes},
		{"oversized gets clamped", MaxFetchBytesLimit * 2, MaxFetchBytesLimit},
		{"reasonable passes through", 4096, 4096},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := &FetchRequest{Topic: "orders", Offset: 3, MaxBytes: tc.in}
			buf := new(bytes.Buffer)
			if err := req.Write(buf); err != nil {
				t.Fatalf("write failed: %v", err)
			}

			r := bytes.NewReader(buf.Bytes())
			consumeHeader(t, r)
			decoded, err := ReadFetchRequest(r)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if decoded.MaxBytes != tc.want {
				t.Errorf("got max bytes %d, want %d", decoded.MaxBytes, tc.want)
			}
		})
	}
}

func TestFetchResponseRoundTrip(t *testing.T) {
	res := &FetchResponse{
		Messages: []FetchedMessage{
			{Offset: 5, Message: Message{Key: []byte("k"), Value: []byte("v"), Timestamp: 9}},
			{Offset: 6, Message: Message{Value: []byte("w"), Timestamp: 10}},
		},
		NextOffset:    7,
		HighWatermark: 12,
	}

	buf := new(bytes.Buffer)
	if err := res.Write(buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	decoded, err := ReadFetchResponse(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if decoded.NextOffset != 7 || decoded.HighWatermark != 12 {
		t.Errorf("offsets mismatch: %+v", decoded)
	}
	if len(decoded.Messages) != 2 || decoded.Messages[0].Offset != 5 {
		t.Errorf("messages mismatch: %+v", decoded.Messages)
	}
}

func TestJoinGroupRoundTrip(t *testing.T) {
	req := &JoinGroupRequest{
		GroupID:        "analytics",
		ClientID:       "worker-1",
		Topics:         []string{"orders", "payments"},
		SessionTimeout: 30 * time.Second,
	}

	buf := new(bytes.Buffer)
	if err := req.Write(buf); err != nil {
		t.Fatalf("write request failed: %v", err)
	}
	r := bytes.NewReader(buf.Bytes())
	if requestType := consumeHeader(t, r); requestType != JoinGroupRequestType {
		t.Fatalf("expected join group request type, got %d", requestType)
	}
	decodedReq, err := ReadJoinGroupRequest(r)
	if err != nil {
		t.Fatalf("read request failed: %v", err)
	}
	if !reflect.DeepEqual(decodedReq.Topics, req.Topics) {
		t.Errorf("topics mismatch: %v", decodedReq.Topics)
	}
	if decodedReq.SessionTimeout != req.SessionTimeout {
		t.Errorf("session timeout mismatch: %v", decodedReq.SessionTimeout)
	}

	res := &JoinGroupResponse{
		Generation: 3,
		GroupID:    "analytics",
		MemberID:   "m-1",
		Leader:     "m-1",
		Members:    []GroupMember{{ID: "m-1", ClientID: "worker-1"}, {ID: "m-2", ClientID: "worker-2"}},
		Assignment: map[string][]int32{"orders": {0, 2}, "payments": {1}},
	}

	buf.Reset()
	if err := res.Write(buf); err != nil {
		t.Fatalf("write response failed: %v", err)
	}
	decodedRes, err := ReadJoinGroupResponse(buf)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	if decodedRes.Generation != 3 || decodedRes.Leader != "m-1" {
		t.Errorf("response mismatch: %+v", decodedRes)
	}
	if len(decodedRes.Members) != 2 {
		t.Errorf("expected 2 members, got %v", decodedRes.Members)
	}
	if !reflect.DeepEqual(decodedRes.Assignment, res.Assignment) {
		t.Errorf("assignment mismatch: %v", decodedRes.Assignment)
	}
}

func TestCommitOffsetRequestRoundTrip(t *testing.T) {
	req := &CommitOffsetRequest{
		GroupID:    "analytics",
		MemberID:   "m-1",
		Topic:      "orders",
		Partition:  2,
		Offset:     41,
		Generation: 5,
	}

	buf := new(bytes.Buffer)
	if err := req.Write(buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	r := bytes.NewReader(buf.Bytes())
	consumeHeader(t, r)

	decoded, err := ReadCommitOffsetRequest(r)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, req) {
		t.Errorf("got %+v, want %+v", decoded, req)
	}
}

func TestListTopicsResponseRoundTrip(t *testing.T) {
	res := &ListTopicsResponse{
		Topics: []TopicSummary{
			{Name: "orders", Partitions: 3, CreatedAt: 1700000000},
			{Name: "payments", Partitions: 1, CreatedAt: 1700000100},
		},
	}

	buf := new(bytes.Buffer)
	if err := res.Write(buf); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	decoded, err := ReadListTopicsResponse(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !reflect.DeepEqual(decoded.Topics, res.Topics) {
		t.Errorf("got %+v, want %+v", decoded.Topics, res.Topics)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int16
	}{
		{nil, ErrorNone},
		{typederrors.NewTypedError(typederrors.UnknownTopicError, "x", nil), ErrorUnknownTopic},
		{typederrors.NewTypedError(typederrors.OffsetOutOfRangeError, "x", nil), ErrorOffsetOutOfRange},
		{typederrors.NewTypedError(typederrors.StaleGenerationError, "x", nil), ErrorStaleGeneration},
		{typederrors.NewTypedError(typederrors.RebalanceInProgressError, "x", nil), ErrorRebalanceInProgress},
		{typederrors.NewTypedError(typederrors.DataCorruptionError, "x", nil), ErrorDataCorruption},
	}
	for _, tc := range cases {
		if got := ErrorCodeFor(tc.err); got != tc.code {
			t.Errorf("ErrorCodeFor(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}
