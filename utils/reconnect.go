package utils

import (
	"fmt"
	"time"
)

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

// FixedInterval waits the same delay before every attempt.
type FixedInterval struct {
	delay time.Duration
}

func NewFixedInterval(delay time.Duration) *FixedInterval {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &FixedInterval{delay: delay}
}

func (f *FixedInterval) NextDelay() time.Duration { return f.delay }

func (f *FixedInterval) Reset() {}

type ExponentialBackoff struct {
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

func NewExponentialBackoffWith(initial, maxDelay time.Duration) *ExponentialBackoff {
	if initial <= 0 {
		initial = 1 * time.Second
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     maxDelay,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.currentDelay = e.initialDelay
}

// NewReconnectStrategy builds a strategy by name: "fixed" (default) or "exponential".
func NewReconnectStrategy(name string, interval, maxInterval time.Duration) (ReconnectStrategy, error) {
	switch name {
	case "", "fixed":
		return NewFixedInterval(interval), nil
	case "exponential":
		return NewExponentialBackoffWith(interval, maxInterval), nil
	default:
		return nil, fmt.Errorf("unknown reconnect strategy: %s", name)
	}
}
