// Package client is the Go client for the kestrel broker: topic
// administration, producing, plain fetching, and consumer groups with
// coordinator-driven rebalancing.
package client

import (
	"fmt"
	"net"
	"time"

	typederrors "github.com/kestrelmq/kestrel/internal/errors"
	"github.com/kestrelmq/kestrel/internal/protocol"
)

// ClientConfig configures a broker client.
type ClientConfig struct {
	// BrokerAddr is the broker's host:port.
	BrokerAddr string
	// Timeout bounds each request, dial included. JoinGroup uses its own,
	// larger bound since it legitimately blocks for the rebalance window.
	Timeout time.Duration
}

// Client talks the broker's binary protocol. Each request runs on its own
// connection; a Client is safe for concurrent use.
type Client struct {
	config ClientConfig
}

// NewClient creates a client for one broker.
func NewClient(config ClientConfig) *Client {
	if config.BrokerAddr == "" {
		config.BrokerAddr = "localhost:9092"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{config: config}
}

// dial opens a connection with the request deadline applied.
func (c *Client) dial(timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.config.BrokerAddr, timeout)
	if err != nil {
		return nil, typederrors.NewTypedError(typederrors.UnavailableError,
			fmt.Sprintf("failed to connect to broker %s", c.config.BrokerAddr), err)
	}
	conn.SetDeadline(time.Now().Add(timeout))
	return conn, nil
}

// codeError maps a wire error code back to a typed error so callers can
// branch on the error kind.
func codeError(code int16) error {
	if code == protocol.ErrorNone {
		return nil
	}

	message := fmt.Sprintf("broker returned %s", protocol.GetErrorCodeName(code))
	switch code {
	case protocol.ErrorUnknownTopic:
		return typederrors.NewTypedError(typederrors.UnknownTopicError, message, nil)
	case protocol.ErrorTopicAlreadyExists:
		return typederrors.NewTypedError(typederrors.TopicAlreadyExistsError, message, nil)
	case protocol.ErrorUnknownPartition:
		return typederrors.NewTypedError(typederrors.UnknownPartitionError, message, nil)
	case protocol.ErrorOffsetOutOfRange:
		return typederrors.NewTypedError(typederrors.OffsetOutOfRangeError, message, nil)
	case protocol.ErrorStaleGeneration:
		return typederrors.NewTypedError(typederrors.StaleGenerationError, message, nil)
	case protocol.ErrorUnknownMember:
		return typederrors.NewTypedError(typederrors.UnknownMemberError, message, nil)
	case protocol.ErrorNotAssignedPartition:
		return typederrors.NewTypedError(typederrors.NotAssignedPartitionError, message, nil)
	case protocol.ErrorRebalanceInProgress:
		return typederrors.NewTypedError(typederrors.RebalanceInProgressError, message, nil)
	case protocol.ErrorDataCorruption:
		return typederrors.NewTypedError(typederrors.DataCorruptionError, message, nil)
	case protocol.ErrorStorage:
		return typederrors.NewTypedError(typederrors.StorageError, message, nil)
	case protocol.ErrorBrokerNotAvailable:
		return typederrors.NewTypedError(typederrors.UnavailableError, message, nil)
	case protocol.ErrorTimeout:
		return typederrors.NewTypedError(typederrors.TimeoutError, message, nil)
	default:
		return typederrors.NewTypedError(typederrors.GeneralError, message, nil)
	}
}
