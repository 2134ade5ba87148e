package core

import (
	"sync/atomic"

	"github.com/lisuiheng/voicebridge/audio"
)

// SessionState 表示会话状态
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateListening
	StateBuffering
	StateSpeaking
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateBuffering:
		return "buffering"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Online reports whether a configured or configuring session exists.
func (s SessionState) Online() bool {
	return s >= StateConnected
}

var _ audio.Gate = (*State)(nil)

// State is the session state and recording flag shared by the control,
// capture and playback contexts. Only the Session writes it.
type State struct {
	session   atomic.Int32
	recording atomic.Bool
}

func NewState() *State {
	return &State{}
}

func (s *State) Session() SessionState {
	return SessionState(s.session.Load())
}

func (s *State) Recording() bool {
	return s.recording.Load()
}

func (s *State) Connected() bool {
	return s.Session().Online()
}

func (s *State) setSession(st SessionState) SessionState {
	return SessionState(s.session.Swap(int32(st)))
}

func (s *State) setRecording(v bool) {
	s.recording.Store(v)
}
