// protocols/websocket/transport.go
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lisuiheng/voicebridge/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

const (
	defaultSendQueue    = 64
	defaultReceiveQueue = 100
	writeWait           = 5 * time.Second
)

type outbound struct {
	data    []byte
	msgType interfaces.MessageType
}

// WSProtocol carries the text control channel over one websocket
// connection. A single writer goroutine owns the socket for writes.
type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	logger    *slog.Logger
	msgChan   chan interfaces.Message
	sendChan  chan outbound
	closeChan chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// Config 定义websocket特有的配置
type Config struct {
	Server struct {
		URL              string
		Subprotocol      string
		ProtocolVersion  int
		HandshakeTimeout time.Duration
	}
	Auth struct {
		AccessToken string
	}
	Device struct {
		MAC  string
		UUID string
	}
	SendQueue int
}

func NewWebSocketProtocol(config Config, logger *slog.Logger) (*WSProtocol, error) {
	if config.Server.URL == "" {
		return nil, fmt.Errorf("%w: empty server url", interfaces.ErrConnectionFailed)
	}
	if logger == nil {
		logger = slog.Default()
	}
	queue := config.SendQueue
	if queue <= 0 {
		queue = defaultSendQueue
	}
	return &WSProtocol{
		config:    config,
		logger:    logger,
		msgChan:   make(chan interfaces.Message, defaultReceiveQueue),
		sendChan:  make(chan outbound, queue),
		closeChan: make(chan struct{}),
	}, nil
}

func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return fmt.Errorf("%w: already connected", interfaces.ErrConnectionFailed)
	}

	conn, err := dial(ctx, p.config)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn

	go p.readPump()
	go p.writePump()
	return nil
}

func (p *WSProtocol) readPump() {
	defer close(p.msgChan)
	for {
		msgType, data, err := p.conn.ReadMessage()
		if err != nil {
			select {
			case <-p.closeChan:
			default:
				p.logger.Warn("websocket read failed", "error", err)
			}
			p.shutdown()
			return
		}
		select {
		case p.msgChan <- interfaces.Message{Payload: data, Type: convertMsgType(msgType)}:
		case <-p.closeChan:
			return
		}
	}
}

func (p *WSProtocol) writePump() {
	for {
		select {
		case <-p.closeChan:
			return
		case msg := <-p.sendChan:
			wsType := websocket.TextMessage
			if msg.msgType == interfaces.MsgBinary {
				wsType = websocket.BinaryMessage
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(wsType, msg.data); err != nil {
				p.logger.Warn("websocket write failed", "error", err)
				p.shutdown()
				return
			}
		}
	}
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	select {
	case <-p.closeChan:
		return interfaces.ErrTransportClosed
	default:
	}
	select {
	case p.sendChan <- outbound{data: data, msgType: msgType}:
		return nil
	case <-p.closeChan:
		return interfaces.ErrTransportClosed
	}
}

func (p *WSProtocol) TrySend(data []byte, msgType interfaces.MessageType) error {
	select {
	case <-p.closeChan:
		return interfaces.ErrTransportClosed
	default:
	}
	select {
	case p.sendChan <- outbound{data: data, msgType: msgType}:
		return nil
	default:
		return interfaces.ErrSendQueueFull
	}
}

func (p *WSProtocol) Receive() <-chan interfaces.Message {
	return p.msgChan
}

func (p *WSProtocol) Subprotocol() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ""
	}
	return p.conn.Subprotocol()
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

// shutdown stops both pumps and closes the socket. Safe to call repeatedly.
func (p *WSProtocol) shutdown() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeChan)
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}
	})
	return err
}

func (p *WSProtocol) Close() error {
	return p.shutdown()
}
