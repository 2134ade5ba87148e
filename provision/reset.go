package provision

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lisuiheng/voicebridge/indicator"
	"github.com/lisuiheng/voicebridge/input"
	"github.com/lisuiheng/voicebridge/storage"
)

const (
	DefaultResetHold  = 3 * time.Second
	resetBlinkPeriod  = 100 * time.Millisecond
	resetPollInterval = 10 * time.Millisecond
)

type ResetConfig struct {
	Hold time.Duration
	// Keys are erased from the store when the reset completes.
	Keys []string
}

// CheckReset looks at the button once at boot. If it is held for the whole
// hold time the light blinks red meanwhile, the configured keys are erased
// and ErrResetRequested is returned. Releasing earlier cancels the reset.
func CheckReset(ctx context.Context, cfg ResetConfig, button input.Button, ind indicator.Indicator, store storage.Store, logger *slog.Logger) error {
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultResetHold
	}
	pressed, err := button.Pressed()
	if err != nil || !pressed {
		return nil
	}

	logger.Info("Button held at boot, keep holding to reset", "hold", cfg.Hold)

	blinkCtx, stopBlink := context.WithCancel(ctx)
	blinkDone := make(chan struct{})
	go func() {
		defer close(blinkDone)
		indicator.Blink(blinkCtx, ind, indicator.Disconnected, resetBlinkPeriod)
	}()
	defer func() {
		stopBlink()
		<-blinkDone
	}()

	deadline := time.NewTimer(cfg.Hold)
	defer deadline.Stop()
	ticker := time.NewTicker(resetPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if pressed, err := button.Pressed(); err != nil || !pressed {
				logger.Info("Button released, reset cancelled")
				return nil
			}
		case <-deadline.C:
			var errs []error
			for _, k := range cfg.Keys {
				if err := store.Delete(k); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				logger.Error("Failed to erase credentials", "error", err)
			}
			logger.Warn("Stored credentials erased")
			return ErrResetRequested
		}
	}
}
