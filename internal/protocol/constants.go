package protocol

import (
	typederrors "github.com/kestrelmq/kestrel/internal/errors"
)

// ProtocolVersion is the current version of the broker wire protocol.
const ProtocolVersion = 1

// Request type constants identify the operation carried by a request.
const (
	ProduceRequestType = 0
	FetchRequestType   = 1

	CreateTopicRequestType  = 2
	ListTopicsRequestType   = 10
	DeleteTopicRequestType  = 11
	GetTopicInfoRequestType = 12

	JoinGroupRequestType    = 3
	LeaveGroupRequestType   = 4
	HeartbeatRequestType    = 5
	CommitOffsetRequestType = 6
	FetchOffsetRequestType  = 7
)

// Error code constants carried in the response error code field.
const (
	ErrorNone = 0

	// Client request errors (1-99)
	ErrorInvalidRequest       = 1
	ErrorUnknownTopic         = 2
	ErrorTopicAlreadyExists   = 3
	ErrorUnknownPartition     = 4
	ErrorInvalidMessage       = 5
	ErrorMessageTooLarge      = 6
	ErrorOffsetOutOfRange     = 7
	ErrorStaleGeneration      = 8
	ErrorUnknownMember        = 9
	ErrorNotAssignedPartition = 10
	ErrorRebalanceInProgress  = 11

	// Server errors (100-199)
	ErrorBrokerNotAvailable = 100
	ErrorStorage            = 101
	ErrorDataCorruption     = 102
	ErrorTimeout            = 103
)

const (
	MaxMessageSize       = 1 << 20
	DefaultMaxFetchBytes = 1 << 20
	MaxFetchBytesLimit   = 5 << 20
	MaxResponseSize      = 8 << 20
)

// RequestTypeNames maps request type constants to human-readable names.
var RequestTypeNames = map[int32]string{
	ProduceRequestType:      "PRODUCE",
	FetchRequestType:        "FETCH",
	CreateTopicRequestType:  "CREATE_TOPIC",
	ListTopicsRequestType:   "LIST_TOPICS",
	DeleteTopicRequestType:  "DELETE_TOPIC",
	GetTopicInfoRequestType: "GET_TOPIC_INFO",
	JoinGroupRequestType:    "JOIN_GROUP",
	LeaveGroupRequestType:   "LEAVE_GROUP",
	HeartbeatRequestType:    "HEARTBEAT",
	CommitOffsetRequestType: "COMMIT_OFFSET",
	FetchOffsetRequestType:  "FETCH_OFFSET",
}

// GetRequestTypeName returns the human-readable name for a request type.
func GetRequestTypeName(requestType int32) string {
	if name, exists := RequestTypeNames[requestType]; exists {
		return name
	}
	return "UNKNOWN"
}

// ErrorCodeNames maps error code constants to human-readable names.
var ErrorCodeNames = map[int16]string{
	ErrorNone:                 "NONE",
	ErrorInvalidRequest:       "INVALID_REQUEST",
	ErrorUnknownTopic:         "UNKNOWN_TOPIC",
	ErrorTopicAlreadyExists:   "TOPIC_ALREADY_EXISTS",
	ErrorUnknownPartition:     "UNKNOWN_PARTITION",
	ErrorInvalidMessage:       "INVALID_MESSAGE",
	ErrorMessageTooLarge:      "MESSAGE_TOO_LARGE",
	ErrorOffsetOutOfRange:     "OFFSET_OUT_OF_RANGE",
	ErrorStaleGeneration:      "STALE_GENERATION",
	ErrorUnknownMember:        "UNKNOWN_MEMBER",
	ErrorNotAssignedPartition: "NOT_ASSIGNED_PARTITION",
	ErrorRebalanceInProgress:  "REBALANCE_IN_PROGRESS",
	ErrorBrokerNotAvailable:   "BROKER_NOT_AVAILABLE",
	ErrorStorage:              "STORAGE_ERROR",
	ErrorDataCorruption:       "DATA_CORRUPTION",
	ErrorTimeout:              "TIMEOUT",
}

// GetErrorCodeName returns the human-readable name for an error code.
func GetErrorCodeName(errorCode int16) string {
	if name, exists := ErrorCodeNames[errorCode]; exists {
		return name
	}
	return "UNKNOWN_ERROR"
}

// ErrorCodeFor translates a broker-side error into its wire error code.
func ErrorCodeFor(err error) int16 {
	if err == nil {
		return ErrorNone
	}
	switch typederrors.GetErrorType(err) {
	case typederrors.UnknownTopicError:
		return ErrorUnknownTopic
	case typederrors.TopicAlreadyExistsError:
		return ErrorTopicAlreadyExists
	case typederrors.UnknownPartitionError:
		return ErrorUnknownPartition
	case typederrors.OffsetOutOfRangeError:
		return ErrorOffsetOutOfRange
	case typederrors.StaleGenerationError:
		return ErrorStaleGeneration
	case typederrors.UnknownMemberError:
		return ErrorUnknownMember
	case typederrors.NotAssignedPartitionError:
		return ErrorNotAssignedPartition
	case typederrors.RebalanceInProgressError:
		return ErrorRebalanceInProgress
	case typederrors.DataCorruptionError:
		return ErrorDataCorruption
	case typederrors.StorageError:
		return ErrorStorage
	case typederrors.UnavailableError:
		return ErrorBrokerNotAvailable
	case typederrors.TimeoutError:
		return ErrorTimeout
	default:
		return ErrorInvalidRequest
	}
}
