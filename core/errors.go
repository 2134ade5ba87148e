package core

import "errors"

var (
	ErrNotConnected     = errors.New("not connected to server")
	ErrConnectionLost   = errors.New("connection lost")
	ErrMalformedMessage = errors.New("malformed message")
	ErrMissingField     = errors.New("missing required field")
	ErrUnknownMessage   = errors.New("unknown message type")
)
