// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrSendQueueFull       = errors.New("send queue full")
	ErrTransportClosed     = errors.New("transport closed")
)

// TransportProtocol is one duplex connection to the voice service. A value is
// good for a single Connect; the Receive channel is closed when the
// connection is lost or closed.
type TransportProtocol interface {
	Connect(ctx context.Context) error
	// Send queues a message, waiting for queue space.
	Send(data []byte, msgType MessageType) error
	// TrySend queues a message or fails with ErrSendQueueFull without waiting.
	TrySend(data []byte, msgType MessageType) error
	Receive() <-chan Message
	// Subprotocol reports the subprotocol the server accepted during the handshake.
	Subprotocol() string
	Close() error
	ProtocolType() string
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON文本
	MsgBinary                     // 二进制数据（如音频）
	MsgControl                    // 控制指令
)

func (t MessageType) String() string {
	switch t {
	case MsgText:
		return "text"
	case MsgBinary:
		return "binary"
	case MsgControl:
		return "control"
	default:
		return "unknown"
	}
}
