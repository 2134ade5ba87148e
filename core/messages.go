package core

import (
	"encoding/json"
	"fmt"
)

// Outbound message types.
const (
	TypeSessionUpdate  = "session.update"
	TypeAudioAppend    = "input_audio_buffer.append"
	TypeButtonPressed  = "unmute.bambola.cordino_tirato"
	TypeButtonReleased = "unmute.bambola.cordino_rilasciato"
)

// Inbound message types with behaviour attached.
const (
	TypeSessionUpdated    = "session.updated"
	TypeAudioDelta        = "response.audio.delta"
	TypeBufferReady       = "unmute.bambola.buffer_ready"
	TypePlaybackStarted   = "unmute.bambola.playback_started"
	TypePlaybackCompleted = "unmute.bambola.playback_completed"
	TypeTextDelta         = "response.text.delta"
	TypeError             = "error"
)

// ignorableTypes are sent by the server but carry nothing the device acts on.
var ignorableTypes = []string{
	"session.created",
	"response.created",
	"response.done",
	"response.audio.done",
	"response.text.done",
	"response.audio_transcript.delta",
	"response.audio_transcript.done",
	"input_audio_buffer.speech_started",
	"input_audio_buffer.speech_stopped",
	"input_audio_buffer.committed",
	"input_audio_buffer.cleared",
	"conversation.item.created",
	"conversation.item.input_audio_transcription.delta",
	"conversation.item.input_audio_transcription.completed",
	"rate_limits.updated",
	"unmute.response.text.delta.ready",
	"unmute.interrupted_by_vad",
	"unmute.additional_outputs",
}

// ServerMessage is an inbound control frame. The set of implementations is
// closed; Session.Handle switches over all of them.
type ServerMessage interface {
	MessageType() string
	serverMessage()
}

type SessionUpdated struct{}

// AudioDelta carries one opus packet of the assistant's reply.
type AudioDelta struct {
	Packet []byte
}

// BufferReady reports that the server has the user's turn buffered. The
// text fields are informational.
type BufferReady struct {
	BufferSize    int    `json:"buffer_size,omitempty"`
	Transcription string `json:"transcription,omitempty"`
	LLMResponse   string `json:"llm_response,omitempty"`
}

type PlaybackStarted struct{}

type PlaybackCompleted struct{}

type TextDelta struct {
	Text string
}

type ServerError struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
}

// Ignored is a recognised message with no effect on the device.
type Ignored struct {
	Type string
}

func (SessionUpdated) MessageType() string    { return TypeSessionUpdated }
func (AudioDelta) MessageType() string        { return TypeAudioDelta }
func (BufferReady) MessageType() string       { return TypeBufferReady }
func (PlaybackStarted) MessageType() string   { return TypePlaybackStarted }
func (PlaybackCompleted) MessageType() string { return TypePlaybackCompleted }
func (TextDelta) MessageType() string         { return TypeTextDelta }
func (ServerError) MessageType() string       { return TypeError }
func (m Ignored) MessageType() string         { return m.Type }

func (SessionUpdated) serverMessage()    {}
func (AudioDelta) serverMessage()        {}
func (BufferReady) serverMessage()       {}
func (PlaybackStarted) serverMessage()   {}
func (PlaybackCompleted) serverMessage() {}
func (TextDelta) serverMessage()         {}
func (ServerError) serverMessage()       {}
func (Ignored) serverMessage()           {}

type parseFunc func(raw []byte) (ServerMessage, error)

// registry maps every known inbound type to its parser.
var registry = func() map[string]parseFunc {
	r := map[string]parseFunc{
		TypeSessionUpdated:    func([]byte) (ServerMessage, error) { return SessionUpdated{}, nil },
		TypeAudioDelta:        parseAudioDelta,
		TypeBufferReady:       parseBufferReady,
		TypePlaybackStarted:   func([]byte) (ServerMessage, error) { return PlaybackStarted{}, nil },
		TypePlaybackCompleted: func([]byte) (ServerMessage, error) { return PlaybackCompleted{}, nil },
		TypeTextDelta:         parseTextDelta,
		TypeError:             parseServerError,
	}
	for _, t := range ignorableTypes {
		t := t
		r[t] = func([]byte) (ServerMessage, error) { return Ignored{Type: t}, nil }
	}
	return r
}()

// KnownTypes lists every inbound type the device recognises.
func KnownTypes() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}

type envelope struct {
	Type string `json:"type"`
}

// ParseServerMessage decodes one inbound text frame. Errors wrap
// ErrMalformedMessage, ErrMissingField or ErrUnknownMessage.
func ParseServerMessage(raw []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	parse, ok := registry[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, env.Type)
	}
	return parse(raw)
}

func parseAudioDelta(raw []byte) (ServerMessage, error) {
	// encoding/json decodes base64 into []byte.
	var m struct {
		Delta *[]byte `json:"delta"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, TypeAudioDelta, err)
	}
	if m.Delta == nil || len(*m.Delta) == 0 {
		return nil, fmt.Errorf("%w: %s.delta", ErrMissingField, TypeAudioDelta)
	}
	return AudioDelta{Packet: *m.Delta}, nil
}

func parseBufferReady(raw []byte) (ServerMessage, error) {
	var m BufferReady
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, TypeBufferReady, err)
	}
	return m, nil
}

func parseTextDelta(raw []byte) (ServerMessage, error) {
	var m struct {
		Delta *string `json:"delta"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, TypeTextDelta, err)
	}
	if m.Delta == nil {
		return nil, fmt.Errorf("%w: %s.delta", ErrMissingField, TypeTextDelta)
	}
	return TextDelta{Text: *m.Delta}, nil
}

func parseServerError(raw []byte) (ServerMessage, error) {
	var m struct {
		Error *ServerError `json:"error"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, TypeError, err)
	}
	if m.Error == nil {
		return nil, fmt.Errorf("%w: error.error", ErrMissingField)
	}
	return *m.Error, nil
}

type turnDetection struct{}

type sessionUpdateMessage struct {
	Type    string `json:"type"`
	Session struct {
		Voice        string `json:"voice"`
		Instructions string `json:"instructions"`
		// Always null: the button is the only turn-taking signal.
		TurnDetection *turnDetection `json:"turn_detection"`
	} `json:"session"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio []byte `json:"audio"`
}

type clientEvent struct {
	Type string `json:"type"`
}

func encodeSessionUpdate(voice, instructions string) ([]byte, error) {
	var m sessionUpdateMessage
	m.Type = TypeSessionUpdate
	m.Session.Voice = voice
	m.Session.Instructions = instructions
	return json.Marshal(m)
}

// encodeAudioAppend wraps an opus packet; the packet is base64 encoded.
func encodeAudioAppend(packet []byte) ([]byte, error) {
	return json.Marshal(appendAudioMessage{Type: TypeAudioAppend, Audio: packet})
}

func encodeClientEvent(eventType string) ([]byte, error) {
	return json.Marshal(clientEvent{Type: eventType})
}
