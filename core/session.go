package core

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/lisuiheng/voicebridge/observe"
	"github.com/lisuiheng/voicebridge/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// KeyLastSessionUpdate records when the server last accepted the session
// configuration, in unix milliseconds.
const KeyLastSessionUpdate = "last_session_update"

// Event is something the session reacts to. The set of implementations is
// closed.
type Event interface {
	event()
}

// ConnectionOpened: a connection attempt to the service has started.
type ConnectionOpened struct{}

// HandshakeAccepted: the service accepted the connection.
type HandshakeAccepted struct {
	Subprotocol string
}

type ConnectionLost struct {
	Err error
}

type ButtonPressed struct{}

type ButtonReleased struct{}

// Inbound wraps a parsed server message.
type Inbound struct {
	Msg ServerMessage
}

func (ConnectionOpened) event()  {}
func (HandshakeAccepted) event() {}
func (ConnectionLost) event()    {}
func (ButtonPressed) event()     {}
func (ButtonReleased) event()    {}
func (Inbound) event()           {}

// ControlSink sends one control frame to the service.
type ControlSink interface {
	SendControl(payload []byte) error
}

// AudioFeeder receives decoded-to-be reply packets.
type AudioFeeder interface {
	Feed(packet []byte) bool
}

type SessionConfig struct {
	Voice        string
	Instructions string
	// Subprotocol is the subprotocol requested during the handshake.
	Subprotocol string
}

// Session is the session protocol state machine. Every method must be called
// from the control context; the capture and playback contexts only read
// the shared State.
type Session struct {
	config    SessionConfig
	state     *State
	control   ControlSink
	feeder    AudioFeeder
	indicator *IndicatorController
	store     storage.Store
	logger    *slog.Logger
	metrics   *observe.Metrics
	now       func() time.Time

	// unhandled counts messages that reached the default branch of Handle.
	unhandled int
}

// NewSession builds the state machine. feeder and store may be nil: reply
// audio is then discarded and diagnostics are not recorded.
func NewSession(cfg SessionConfig, state *State, control ControlSink, feeder AudioFeeder, ind *IndicatorController, store storage.Store, logger *slog.Logger, metrics *observe.Metrics) *Session {
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Session{
		config:    cfg,
		state:     state,
		control:   control,
		feeder:    feeder,
		indicator: ind,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (s *Session) State() SessionState {
	return s.state.Session()
}

// HandleFrame parses a text frame from the service and handles it.
// Malformed frames are logged and dropped.
func (s *Session) HandleFrame(raw []byte) {
	msg, err := ParseServerMessage(raw)
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			s.logger.Warn("Unknown message type received", "error", err)
			return
		}
		s.metrics.MalformedMessages.Add(context.Background(), 1)
		s.logger.Warn("Dropping malformed message", "error", err, "size", len(raw))
		return
	}
	s.Handle(Inbound{Msg: msg})
}

func (s *Session) Handle(ev Event) {
	switch ev := ev.(type) {
	case ConnectionOpened:
		if s.State() == StateDisconnected {
			s.transition(StateConnecting)
		}
	case HandshakeAccepted:
		s.onHandshake(ev)
	case ConnectionLost:
		s.onConnectionLost(ev)
	case ButtonPressed:
		s.onPress()
	case ButtonReleased:
		s.onRelease()
	case Inbound:
		s.onMessage(ev.Msg)
	default:
		s.logger.Error("Unhandled session event", "event", ev)
	}
}

func (s *Session) onHandshake(ev HandshakeAccepted) {
	if s.State() != StateConnecting {
		s.logger.Warn("Handshake outside connecting state", "state", s.State())
		return
	}
	if s.config.Subprotocol != "" && ev.Subprotocol != s.config.Subprotocol {
		s.logger.Warn("Server did not accept subprotocol",
			"requested", s.config.Subprotocol,
			"accepted", ev.Subprotocol)
	}
	s.transition(StateConnected)

	payload, err := encodeSessionUpdate(s.config.Voice, s.config.Instructions)
	if err == nil {
		err = s.control.SendControl(payload)
	}
	if err != nil {
		s.logger.Error("Failed to send session configuration", "error", err)
		return
	}
	s.logger.Info("Session configuration sent", "voice", s.config.Voice)
}

func (s *Session) onConnectionLost(ev ConnectionLost) {
	s.state.setRecording(false)
	if s.State() != StateDisconnected {
		s.logger.Warn("Connection lost", "error", ev.Err, "state", s.State())
	}
	s.transition(StateDisconnected)
}

// inConversation reports whether the session is configured.
func (s *Session) inConversation() bool {
	switch s.State() {
	case StateListening, StateBuffering, StateSpeaking:
		return true
	default:
		return false
	}
}

func (s *Session) onPress() {
	if !s.inConversation() {
		s.logger.Info("Button pressed before session is ready", "state", s.State())
		return
	}
	if s.state.Recording() {
		return
	}
	if err := s.sendEvent(TypeButtonPressed); err != nil {
		s.logger.Error("Failed to send button press", "error", err)
		return
	}
	s.state.setRecording(true)
	s.transition(StateBuffering)
}

func (s *Session) onRelease() {
	if !s.state.Recording() {
		return
	}
	s.state.setRecording(false)
	if err := s.sendEvent(TypeButtonReleased); err != nil {
		s.logger.Error("Failed to send button release", "error", err)
	}
	s.transition(StateSpeaking)
}

func (s *Session) sendEvent(eventType string) error {
	payload, err := encodeClientEvent(eventType)
	if err != nil {
		return err
	}
	if err := s.control.SendControl(payload); err != nil {
		return err
	}
	s.logger.Debug("Client event sent", "type", eventType)
	return nil
}

func (s *Session) onMessage(msg ServerMessage) {
	switch m := msg.(type) {
	case AudioDelta:
		if s.State() == StateDisconnected || s.feeder == nil {
			return
		}
		s.feeder.Feed(m.Packet)
	case SessionUpdated:
		if s.State() != StateConnected {
			s.logger.Debug("Session update acknowledged again", "state", s.State())
			return
		}
		s.logger.Info("Session configured by server")
		s.recordSessionUpdate()
		s.transition(StateListening)
	case BufferReady:
		s.logger.Info("Server buffer ready",
			"buffer_size", m.BufferSize,
			"transcription", m.Transcription,
			"llm_response", m.LLMResponse)
		s.phase(StateBuffering)
	case PlaybackStarted:
		s.phase(StateSpeaking)
	case PlaybackCompleted:
		s.phase(StateListening)
	case TextDelta:
		s.logger.Debug("Assistant text", "delta", m.Text)
	case ServerError:
		s.logger.Error("Server error", "type", m.Kind, "message", m.Message)
	case Ignored:
		s.logger.Debug("Ignoring server message", "type", m.Type)
	default:
		s.unhandled++
		s.logger.Warn("Unhandled server message", "type", msg.MessageType())
	}
}

// phase applies a server playback phase once the session is configured.
func (s *Session) phase(to SessionState) {
	if !s.inConversation() {
		s.logger.Debug("Ignoring playback phase before session is ready", "to", to, "state", s.State())
		return
	}
	s.transition(to)
}

func (s *Session) recordSessionUpdate() {
	if s.store == nil {
		return
	}
	stamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.store.Put(KeyLastSessionUpdate, stamp); err != nil {
		s.logger.Warn("Failed to record session update", "error", err)
	}
}

// transition commits a state change and updates the light before returning.
func (s *Session) transition(to SessionState) {
	from := s.state.setSession(to)
	if from == to {
		return
	}
	s.logger.Info("State changed", "from", from, "to", to)
	s.metrics.SessionTransitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("to", to.String())))
	if s.indicator != nil {
		s.indicator.Apply(to)
	}
}
