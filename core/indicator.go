package core

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lisuiheng/voicebridge/indicator"
)

const provisioningBlink = 500 * time.Millisecond

// ColorFor maps the session state to the light color. Provisioning wins over
// every session state.
func ColorFor(s SessionState, provisioning bool) indicator.Color {
	if provisioning {
		return indicator.Provisioning
	}
	switch s {
	case StateConnecting:
		return indicator.Connecting
	case StateConnected:
		return indicator.Connected
	case StateListening:
		return indicator.Listening
	case StateBuffering:
		return indicator.Buffering
	case StateSpeaking:
		return indicator.Speaking
	default:
		return indicator.Disconnected
	}
}

// IndicatorController applies ColorFor to the light on every transition.
// While provisioning the light blinks instead.
type IndicatorController struct {
	mu           sync.Mutex
	out          indicator.Indicator
	blinker      *indicator.Blinker
	provisioning bool
	last         SessionState
	logger       *slog.Logger
}

func NewIndicatorController(out indicator.Indicator, logger *slog.Logger) *IndicatorController {
	return &IndicatorController{
		out:     out,
		blinker: indicator.NewBlinker(out),
		logger:  logger,
	}
}

// Apply shows s. It returns once the color has been written.
func (c *IndicatorController) Apply(s SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = s
	if c.provisioning {
		return
	}
	c.set(ColorFor(s, false))
}

// SetProvisioning is the configuration-mode callback of the provisioner.
func (c *IndicatorController) SetProvisioning(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if active == c.provisioning {
		return
	}
	c.provisioning = active
	if active {
		c.blinker.Start(ColorFor(c.last, true), provisioningBlink)
		return
	}
	c.blinker.Stop()
	c.set(ColorFor(c.last, false))
}

func (c *IndicatorController) set(color indicator.Color) {
	if err := c.out.SetColor(color); err != nil {
		c.logger.Warn("Failed to set indicator", "color", color.String(), "error", err)
	}
}
