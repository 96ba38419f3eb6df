package broker

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kestrelmq/kestrel/internal/logging"
	"github.com/kestrelmq/kestrel/internal/metrics"
	"github.com/kestrelmq/kestrel/internal/protocol"
)

// ClientServer accepts client connections and dispatches framed requests.
type ClientServer struct {
	broker   *Broker
	listener net.Listener
	logger   *logging.Logger

	mu     sync.Mutex
	closed bool
}

// RequestHandler handles one decoded request type.
type RequestHandler interface {
	Handle(conn net.Conn, cs *ClientServer) error
}

// requestHandlers maps request types to their handlers.
var requestHandlers = map[int32]RequestHandler{
	protocol.ProduceRequestType:      &ProduceHandler{},
	protocol.FetchRequestType:        &FetchHandler{},
	protocol.CreateTopicRequestType:  &CreateTopicHandler{},
	protocol.DeleteTopicRequestType:  &DeleteTopicHandler{},
	protocol.ListTopicsRequestType:   &ListTopicsHandler{},
	protocol.GetTopicInfoRequestType: &GetTopicInfoHandler{},
	protocol.JoinGroupRequestType:    &JoinGroupHandler{},
	protocol.LeaveGroupRequestType:   &LeaveGroupHandler{},
	protocol.HeartbeatRequestType:    &HeartbeatHandler{},
	protocol.CommitOffsetRequestType: &CommitOffsetHandler{},
	protocol.FetchOffsetRequestType:  &FetchOffsetHandler{},
}

// NewClientServer creates the client server for a broker.
func NewClientServer(broker *Broker) *ClientServer {
	return &ClientServer{
		broker: broker,
		logger: logging.GetLogger().WithComponent("client-server"),
	}
}

// Start begins listening and accepting connections.
func (cs *ClientServer) Start() error {
	addr := fmt.Sprintf("%s:%d", cs.broker.Config.BindAddr, cs.broker.Config.BindPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", addr, err)
	}

	cs.listener = listener
	go cs.acceptConnections()

	cs.logger.Info("Client server listening", "addr", addr)
	return nil
}

// Stop closes the listener. In-flight requests finish on their own deadlines.
func (cs *ClientServer) Stop() error {
	cs.mu.Lock()
	cs.closed = true
	cs.mu.Unlock()

	if cs.listener != nil {
		return cs.listener.Close()
	}
	return nil
}

// Addr returns the bound listener address, useful when the port was 0.
func (cs *ClientServer) Addr() net.Addr {
	if cs.listener == nil {
		return nil
	}
	return cs.listener.Addr()
}

func (cs *ClientServer) acceptConnections() {
	for {
		conn, err := cs.listener.Accept()
		if err != nil {
			cs.mu.Lock()
			closed := cs.closed
			cs.mu.Unlock()
			if !closed {
				cs.logger.Warn("Accept failed", "error", err)
			}
			return
		}
		go cs.handleConnection(conn)
	}
}

// handleConnection serves one request per connection, the way the protocol
// frames them.
func (cs *ClientServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	conn.SetDeadline(time.Now().Add(cs.broker.requestDeadline()))

	var requestType int32
	if err := binary.Read(conn, binary.BigEndian, &requestType); err != nil {
		return
	}

	var version int16
	if err := binary.Read(conn, binary.BigEndian, &version); err != nil {
		return
	}
	if version != protocol.ProtocolVersion {
		cs.sendErrorResponse(conn, protocol.ErrorInvalidRequest)
		return
	}

	typeName := protocol.GetRequestTypeName(requestType)
	metrics.RequestsReceived.WithLabelValues(typeName).Inc()
	start := time.Now()

	handler, exists := requestHandlers[requestType]
	if !exists {
		cs.logger.Warn("Unknown request type", "type", requestType, "remote", conn.RemoteAddr().String())
		cs.sendErrorResponse(conn, protocol.ErrorInvalidRequest)
		return
	}

	cs.logger.ClientRequest(typeName, conn.RemoteAddr().String(), nil)

	if err := handler.Handle(conn, cs); err != nil {
		cs.logger.Warn("Request failed", "type", typeName, "error", err)
		cs.sendErrorResponse(conn, protocol.ErrorInvalidRequest)
	}

	metrics.RequestDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
}

// sendErrorResponse writes a minimal framed response carrying only an error
// code, for requests that failed before their handler produced a response.
func (cs *ClientServer) sendErrorResponse(conn net.Conn, errorCode int16) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.BigEndian, errorCode)

	payload := buf.Bytes()
	binary.Write(conn, binary.BigEndian, int32(len(payload)))
	conn.Write(payload)
}

// recordError bumps the error counter for a handled request that answered
// with a non-zero error code.
func recordError(requestType int32, errorCode int16) {
	if errorCode == protocol.ErrorNone {
		return
	}
	metrics.RequestErrors.WithLabelValues(
		protocol.GetRequestTypeName(requestType),
		protocol.GetErrorCodeName(errorCode)).Inc()
}
