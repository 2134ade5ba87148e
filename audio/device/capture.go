// Package device binds the pipeline's capture and playback endpoints to the
// sound hardware.
package device

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"
	"github.com/lisuiheng/voicebridge/audio"
)

var _ audio.CaptureEndpoint = (*Capture)(nil)

type CaptureConfig struct {
	SampleRate   int
	Channels     int
	FrameSamples int
	// QueueFrames is how many whole frames may wait for the capture loop.
	QueueFrames int
}

// Capture 麦克风采集端点. miniaudio delivers periods on its own thread; they
// are cut into whole frames and handed to ReadFrame.
type Capture struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	queue    *audio.FrameQueue
	logger   *slog.Logger
}

func NewCapture(cfg CaptureConfig, logger *slog.Logger) (*Capture, error) {
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("invalid frame size: %d", cfg.FrameSamples)
	}

	c := &Capture{
		queue:  audio.NewFrameQueue(cfg.FrameSamples*cfg.Channels, cfg.QueueFrames),
		logger: logger,
	}

	// 初始化malgo上下文
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	c.malgoCtx = ctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.FrameSamples)

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.queue.WriteBytes(input)
		},
	})
	if err != nil {
		c.freeContext()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		c.freeContext()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	logger.Info("Audio capture device started",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_size", cfg.FrameSamples)
	return c, nil
}

func (c *Capture) ReadFrame(ctx context.Context, frame []int16) error {
	return c.queue.ReadFrame(ctx, frame)
}

// Dropped reports frames lost because the capture loop fell behind.
func (c *Capture) Dropped() uint64 {
	return c.queue.Dropped()
}

func (c *Capture) Close() error {
	if c.device != nil {
		if err := c.device.Stop(); err != nil {
			c.logger.Warn("failed to stop capture device", "error", err)
		}
		c.device.Uninit()
		c.device = nil
	}
	c.freeContext()
	c.logger.Info("Audio capture device closed", "dropped_frames", c.queue.Dropped())
	return nil
}

func (c *Capture) freeContext() {
	if c.malgoCtx == nil {
		return
	}
	_ = c.malgoCtx.Uninit()
	c.malgoCtx.Free()
	c.malgoCtx = nil
}
