package audio

import (
	"context"
	"log/slog"
	"time"

	"github.com/lisuiheng/voicebridge/observe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DefaultIdleSleep = 10 * time.Millisecond

type CaptureConfig struct {
	FrameSamples int
	// IdleSleep is how long the loop yields after discarding a frame while
	// not recording.
	IdleSleep time.Duration
	// CPU pins the loop to a processor; negative leaves it unpinned.
	CPU int
}

// CaptureStreamer moves microphone frames through the encoder to the
// network boundary while the session is recording.
type CaptureStreamer struct {
	config  CaptureConfig
	capture CaptureEndpoint
	encoder Encoder
	gate    Gate
	sink    PacketSink
	logger  *slog.Logger
	metrics *observe.Metrics
	frame   []int16
}

func NewCaptureStreamer(cfg CaptureConfig, capture CaptureEndpoint, encoder Encoder, gate Gate, sink PacketSink, logger *slog.Logger, metrics *observe.Metrics) *CaptureStreamer {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &CaptureStreamer{
		config:  cfg,
		capture: capture,
		encoder: encoder,
		gate:    gate,
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		frame:   make([]int16, cfg.FrameSamples),
	}
}

// Run loops until ctx ends. Read errors are logged and retried after the
// idle sleep; nothing in the loop waits on the network.
func (s *CaptureStreamer) Run(ctx context.Context) error {
	if s.config.CPU >= 0 {
		// The pinned thread exits together with this goroutine.
		if err := PinToCPU(s.config.CPU); err != nil {
			s.logger.Warn("Failed to pin capture loop", "cpu", s.config.CPU, "error", err)
		}
	}

	s.logger.Info("Audio capture started", "frame_size", s.config.FrameSamples)
	defer s.logger.Info("Audio capture stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.capture.ReadFrame(ctx, s.frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("Capture read failed", "error", err)
			s.idle(ctx)
			continue
		}
		s.metrics.CaptureFrames.Add(ctx, 1)
		s.process(ctx)
	}
}

func (s *CaptureStreamer) process(ctx context.Context) {
	if !s.gate.Recording() {
		s.drop(ctx, "idle")
		s.idle(ctx)
		return
	}
	if !s.gate.Connected() {
		s.drop(ctx, "disconnected")
		return
	}

	packet, err := s.encoder.Encode(s.frame)
	if err != nil {
		s.logger.Debug("OPUS encode failed, dropping frame", "error", err)
		s.metrics.CodecErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "encode")))
		s.drop(ctx, "encode")
		return
	}

	if err := s.sink.SendAudio(packet); err != nil {
		s.logger.Debug("Audio send busy, dropping packet", "error", err, "size", len(packet))
		s.drop(ctx, "send_busy")
		return
	}
	s.metrics.CaptureSent.Add(ctx, 1)
}

func (s *CaptureStreamer) drop(ctx context.Context, reason string) {
	s.metrics.CaptureDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (s *CaptureStreamer) idle(ctx context.Context) {
	t := time.NewTimer(s.config.IdleSleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
