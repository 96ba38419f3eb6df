package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType int

const (
	// Client usage error types: never retried by the broker, the caller
	// decides what to do next.
	UnknownTopicError ErrorType = iota
	TopicAlreadyExistsError
	UnknownPartitionError
	OffsetOutOfRangeError
	StaleGenerationError
	UnknownMemberError
	NotAssignedPartitionError

	// Coordination conflicts: expected, non-fatal, retry after the window.
	RebalanceInProgressError

	// Transient resource error types
	StorageError
	UnavailableError
	TimeoutError

	// Fatal error types
	DataCorruptionError

	// General error types
	GeneralError
)

// TypedError represents an error with a specific type and enough request
// context (topic, partition, offset, generation) to be actionable without
// broker-side logs.
type TypedError struct {
	Type    ErrorType
	Message string
	Cause   error

	Topic      string
	Partition  int32
	Offset     int64
	Generation int32
}

// Error implements the error interface
func (e *TypedError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Topic != "" {
		fmt.Fprintf(&sb, " topic=%s partition=%d", e.Topic, e.Partition)
	}
	if e.Offset > 0 {
		fmt.Fprintf(&sb, " offset=%d", e.Offset)
	}
	if e.Generation > 0 {
		fmt.Fprintf(&sb, " generation=%d", e.Generation)
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *TypedError) Unwrap() error {
	return e.Cause
}

// NewTypedError creates a new typed error
func NewTypedError(errorType ErrorType, message string, cause error) *TypedError {
	return &TypedError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// WithTopic attaches topic/partition context to the error.
func (e *TypedError) WithTopic(topic string, partition int32) *TypedError {
	e.Topic = topic
	e.Partition = partition
	return e
}

// WithOffset attaches offset context to the error.
func (e *TypedError) WithOffset(offset int64) *TypedError {
	e.Offset = offset
	return e
}

// WithGeneration attaches group generation context to the error.
func (e *TypedError) WithGeneration(generation int32) *TypedError {
	e.Generation = generation
	return e
}

// GetErrorType returns the error type if it's a TypedError, otherwise returns GeneralError
func GetErrorType(err error) ErrorType {
	if typedErr, ok := err.(*TypedError); ok {
		return typedErr.Type
	}
	return GeneralError
}

// IsClientError checks if the error is a client usage error that must be
// surfaced immediately instead of retried.
func IsClientError(err error) bool {
	switch GetErrorType(err) {
	case UnknownTopicError, TopicAlreadyExistsError, UnknownPartitionError,
		OffsetOutOfRangeError, StaleGenerationError, UnknownMemberError,
		NotAssignedPartitionError:
		return true
	}
	return false
}

// IsRetriable checks if the error is transient and worth retrying with backoff.
func IsRetriable(err error) bool {
	switch GetErrorType(err) {
	case StorageError, UnavailableError, TimeoutError, RebalanceInProgressError:
		return true
	}
	return false
}

// IsOffsetOutOfRange checks for the out-of-range read failure mode.
func IsOffsetOutOfRange(err error) bool {
	return GetErrorType(err) == OffsetOutOfRangeError
}

// IsStaleGeneration checks for a rejected stale-generation request.
func IsStaleGeneration(err error) bool {
	return GetErrorType(err) == StaleGenerationError
}

// IsRebalanceInProgress checks whether the caller should retry after the
// advertised rebalance window.
func IsRebalanceInProgress(err error) bool {
	return GetErrorType(err) == RebalanceInProgressError
}

// IsDataCorruption checks for the fatal corrupted-segment failure mode.
func IsDataCorruption(err error) bool {
	return GetErrorType(err) == DataCorruptionError
}
