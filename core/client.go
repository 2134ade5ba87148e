package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/voicebridge/audio"
	"github.com/lisuiheng/voicebridge/indicator"
	"github.com/lisuiheng/voicebridge/input"
	"github.com/lisuiheng/voicebridge/observe"
	"github.com/lisuiheng/voicebridge/pkg/interfaces"
	"github.com/lisuiheng/voicebridge/protocols/websocket"
	"github.com/lisuiheng/voicebridge/storage"
	"github.com/lisuiheng/voicebridge/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

var (
	_ audio.PacketSink = (*Client)(nil)
	_ ControlSink      = (*Client)(nil)
)

// TransportFactory builds an unconnected transport.
type TransportFactory func(cfg Config, logger *slog.Logger) (interfaces.TransportProtocol, error)

// Dependencies are the collaborators the client runs with. A nil audio
// collaborator disables the path that needs it and the rest keeps running.
type Dependencies struct {
	Capture   audio.CaptureEndpoint
	Encoder   audio.Encoder
	Playback  audio.PlaybackEndpoint
	Decoder   audio.Decoder
	Button    input.Button
	Indicator indicator.Indicator
	Store     storage.Store
	Metrics   *observe.Metrics
	// NewTransport defaults to NewProtocol.
	NewTransport TransportFactory
}

// Client owns the control context: it dials and re-dials the service, polls
// the button, dispatches inbound frames to the Session and runs the capture
// and playback contexts next to it.
type Client struct {
	config    Config
	state     *State
	session   *Session
	indicator *IndicatorController
	monitor   *input.Monitor
	reconnect utils.ReconnectStrategy

	newTransport TransportFactory
	transport    interfaces.TransportProtocol
	mu           sync.RWMutex

	buffer   *audio.PlaybackBuffer
	capture  *audio.CaptureStreamer
	playback *audio.PlaybackStreamer

	logger  *slog.Logger
	metrics *observe.Metrics
}

// Status 包含客户端状态信息
type Status struct {
	State           SessionState
	Recording       bool
	Connected       bool
	Overruns        uint64
	CaptureEnabled  bool
	PlaybackEnabled bool
}

type dialResult struct {
	transport interfaces.TransportProtocol
	err       error
}

// NewClient 创建一个新的客户端
func NewClient(cfg Config, deps Dependencies, log *slog.Logger) (*Client, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reconnect, err := utils.NewReconnectStrategy(cfg.Network.Reconnect.Strategy,
		cfg.Network.Reconnect.Interval, cfg.Network.Reconnect.MaxInterval)
	if err != nil {
		return nil, err
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.Discard()
	}
	if deps.NewTransport == nil {
		deps.NewTransport = NewProtocol
	}
	out := deps.Indicator
	if out == nil {
		out = indicator.NewLogIndicator(log)
	}

	c := &Client{
		config:       cfg,
		state:        NewState(),
		indicator:    NewIndicatorController(out, log),
		reconnect:    reconnect,
		newTransport: deps.NewTransport,
		buffer:       audio.NewPlaybackBuffer(cfg.Audio.BufferFrames, cfg.Audio.MaxDecodedSamples),
		logger:       log,
		metrics:      metrics,
	}

	if deps.Button != nil {
		c.monitor = input.NewMonitor(deps.Button, cfg.Button.Debounce, log)
	} else {
		log.Warn("No button configured, turn-taking disabled")
	}

	if deps.Capture != nil && deps.Encoder != nil {
		c.capture = audio.NewCaptureStreamer(audio.CaptureConfig{
			FrameSamples: cfg.Audio.FrameSamples,
			IdleSleep:    cfg.Audio.IdleSleep,
			CPU:          cfg.Audio.CaptureCPU,
		}, deps.Capture, deps.Encoder, c.state, c, log, metrics)
	} else {
		log.Warn("Capture path disabled", "capture", deps.Capture != nil, "encoder", deps.Encoder != nil)
	}

	var feeder AudioFeeder
	if deps.Playback != nil && deps.Decoder != nil {
		c.playback = audio.NewPlaybackStreamer(c.buffer, deps.Playback, cfg.Audio.PlaybackCPU, log, metrics)
		feeder = audio.NewPlaybackFeeder(deps.Decoder, c.buffer, log, metrics)
	} else {
		log.Warn("Playback path disabled", "playback", deps.Playback != nil, "decoder", deps.Decoder != nil)
	}

	var subprotocol string
	if cfg.Network.Websocket != nil {
		subprotocol = cfg.Network.Websocket.Subprotocol
	}
	c.session = NewSession(SessionConfig{
		Voice:        cfg.Session.Voice,
		Instructions: cfg.Session.Instructions,
		Subprotocol:  subprotocol,
	}, c.state, c, feeder, c.indicator, deps.Store, log, metrics)

	return c, nil
}

// Indicator exposes the controller so the provisioner can drive it.
func (c *Client) Indicator() *IndicatorController {
	return c.indicator
}

// Run 启动客户端主循环. It blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("Starting client main loop")
	defer c.logger.Info("Client main loop stopped")

	g, ctx := errgroup.WithContext(ctx)
	if c.capture != nil {
		g.Go(func() error { return c.capture.Run(ctx) })
	}
	if c.playback != nil {
		g.Go(func() error { return c.playback.Run(ctx) })
	}
	g.Go(func() error { return c.controlLoop(ctx) })
	return g.Wait()
}

func (c *Client) controlLoop(ctx context.Context) error {
	defer c.closeTransport()

	c.indicator.Apply(c.state.Session())

	var tick <-chan time.Time
	if c.monitor != nil {
		poll := c.config.Button.Poll
		if poll <= 0 {
			poll = 10 * time.Millisecond
		}
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	dialDone := make(chan dialResult, 1)
	var (
		inbound <-chan interfaces.Message
		retry   <-chan time.Time
	)
	c.dial(ctx, dialDone)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping client")
			select {
			case res := <-dialDone:
				if res.transport != nil {
					_ = res.transport.Close()
				}
			default:
			}
			return nil

		case now := <-tick:
			if edge, ok := c.monitor.Poll(now); ok {
				c.onEdge(edge)
			}

		case res := <-dialDone:
			if res.err != nil {
				c.metrics.ConnectionAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
				c.logger.Error("Failed to connect to server", "error", res.err)
				c.session.Handle(ConnectionLost{Err: res.err})
				retry = c.scheduleRetry()
				continue
			}
			c.metrics.ConnectionAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
			c.logger.Info("Connected to server successfully")
			c.reconnect.Reset()
			c.setTransport(res.transport)
			inbound = res.transport.Receive()
			c.session.Handle(HandshakeAccepted{Subprotocol: res.transport.Subprotocol()})

		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				c.closeTransport()
				c.session.Handle(ConnectionLost{Err: ErrConnectionLost})
				retry = c.scheduleRetry()
				continue
			}
			if msg.Type != interfaces.MsgText {
				c.logger.Debug("Ignoring non-text frame", "type", msg.Type, "size", len(msg.Payload))
				continue
			}
			c.session.HandleFrame(msg.Payload)

		case <-retry:
			retry = nil
			c.dial(ctx, dialDone)
		}
	}
}

func (c *Client) onEdge(edge input.Edge) {
	switch edge {
	case input.EdgePress:
		c.session.Handle(ButtonPressed{})
	case input.EdgeRelease:
		c.session.Handle(ButtonReleased{})
	}
}

// dial connects in the background so the button and the light stay live.
func (c *Client) dial(ctx context.Context, done chan<- dialResult) {
	c.session.Handle(ConnectionOpened{})
	c.logger.Info("Connecting to server", "transport", c.config.Network.Transport)

	go func() {
		t, err := c.newTransport(c.config, c.logger)
		if err != nil {
			done <- dialResult{err: fmt.Errorf("failed to create transport: %w", err)}
			return
		}
		if err := t.Connect(ctx); err != nil {
			_ = t.Close()
			done <- dialResult{err: err}
			return
		}
		done <- dialResult{transport: t}
	}()
}

func (c *Client) scheduleRetry() <-chan time.Time {
	delay := c.reconnect.NextDelay()
	c.logger.Info("Reconnecting", "delay", delay)
	return time.After(delay)
}

func (c *Client) setTransport(t interfaces.TransportProtocol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

func (c *Client) currentTransport() interfaces.TransportProtocol {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

func (c *Client) closeTransport() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			c.logger.Debug("Failed to close transport", "error", err)
		}
	}
}

// SendAudio queues one encoded packet as an input_audio_buffer.append frame.
// It is called from the capture context and never waits for the network.
func (c *Client) SendAudio(packet []byte) error {
	t := c.currentTransport()
	if t == nil {
		return ErrNotConnected
	}
	payload, err := encodeAudioAppend(packet)
	if err != nil {
		return fmt.Errorf("failed to marshal audio: %w", err)
	}
	return t.TrySend(payload, interfaces.MsgText)
}

// SendControl sends a control frame, waiting for room in the send queue.
func (c *Client) SendControl(payload []byte) error {
	t := c.currentTransport()
	if t == nil {
		c.logger.Error("Cannot send message, not connected to server")
		return ErrNotConnected
	}
	return t.Send(payload, interfaces.MsgText)
}

// Status 获取当前状态
func (c *Client) Status() Status {
	return Status{
		State:           c.state.Session(),
		Recording:       c.state.Recording(),
		Connected:       c.currentTransport() != nil,
		Overruns:        c.buffer.Overruns(),
		CaptureEnabled:  c.capture != nil,
		PlaybackEnabled: c.playback != nil,
	}
}

// NewProtocol 根据配置创建对应的协议实例
func NewProtocol(config Config, logger *slog.Logger) (interfaces.TransportProtocol, error) {
	switch config.Network.Transport {
	case "websocket":
		if config.Network.Websocket == nil {
			return nil, errors.New("websocket config missing")
		}
		ws := config.Network.Websocket

		var wsConfig websocket.Config
		wsConfig.Server.URL = ws.URL
		wsConfig.Server.Subprotocol = ws.Subprotocol
		wsConfig.Server.ProtocolVersion = ws.ProtocolVersion
		wsConfig.Server.HandshakeTimeout = ws.HandshakeTimeout
		wsConfig.Auth.AccessToken = ws.AccessToken
		wsConfig.Device.MAC = config.System.DeviceID
		wsConfig.Device.UUID = config.System.ClientID
		wsConfig.SendQueue = ws.SendQueue

		p, err := websocket.NewWebSocketProtocol(wsConfig, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedProtocol, config.Network.Transport)
	}
}
