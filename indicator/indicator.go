package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Indicator is the light output. There is no readback.
type Indicator interface {
	SetColor(c Color) error
}

var _ Indicator = (*LogIndicator)(nil)

// LogIndicator stands in for the light on hosts without one.
type LogIndicator struct {
	mu     sync.Mutex
	last   Color
	logger *slog.Logger
}

func NewLogIndicator(logger *slog.Logger) *LogIndicator {
	return &LogIndicator{logger: logger}
}

func (l *LogIndicator) SetColor(c Color) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c != l.last {
		l.logger.Debug("Indicator color", "color", c.String())
	}
	l.last = c
	return nil
}

// Blink alternates the light between on and off every period until ctx is
// done, then leaves it off.
func Blink(ctx context.Context, ind Indicator, on Color, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	lit := true
	_ = ind.SetColor(on)
	for {
		select {
		case <-ctx.Done():
			_ = ind.SetColor(Off)
			return
		case <-ticker.C:
			lit = !lit
			if lit {
				_ = ind.SetColor(on)
			} else {
				_ = ind.SetColor(Off)
			}
		}
	}
}

// Blinker runs Blink in the background and can be stopped.
type Blinker struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	ind    Indicator
}

func NewBlinker(ind Indicator) *Blinker {
	return &Blinker{ind: ind}
}

// Start begins blinking, replacing any blink already running.
func (b *Blinker) Start(on Color, period time.Duration) {
	b.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.cancel = cancel
	b.done = done
	go func() {
		defer close(done)
		Blink(ctx, b.ind, on, period)
	}()
}

// Stop ends the blink and waits until the light is off.
func (b *Blinker) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
