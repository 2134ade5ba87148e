package audio

import (
	"context"
	"log/slog"

	"github.com/lisuiheng/voicebridge/observe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PlaybackStreamer drains the playback buffer into the speaker. The blocking
// device write paces the loop.
type PlaybackStreamer struct {
	buffer   *PlaybackBuffer
	playback PlaybackEndpoint
	cpu      int
	logger   *slog.Logger
	metrics  *observe.Metrics
}

// NewPlaybackStreamer builds the loop; a negative cpu leaves it unpinned.
func NewPlaybackStreamer(buffer *PlaybackBuffer, playback PlaybackEndpoint, cpu int, logger *slog.Logger, metrics *observe.Metrics) *PlaybackStreamer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &PlaybackStreamer{
		buffer:   buffer,
		playback: playback,
		cpu:      cpu,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *PlaybackStreamer) Run(ctx context.Context) error {
	if s.cpu >= 0 {
		if err := PinToCPU(s.cpu); err != nil {
			s.logger.Warn("Failed to pin playback loop", "cpu", s.cpu, "error", err)
		}
	}

	s.logger.Info("Audio playback started", "buffer_frames", s.buffer.Cap())
	defer s.logger.Info("Audio playback stopped")

	for {
		frame, err := s.buffer.Pop(ctx)
		if err != nil {
			return nil
		}
		if err := s.playback.WriteFrame(frame.Samples); err != nil {
			s.logger.Warn("Playback write failed", "error", err, "samples", len(frame.Samples))
		} else {
			s.metrics.PlaybackFrames.Add(ctx, 1)
		}
		s.buffer.Release(frame)

		// End of a reply: play out what the endpoint still holds.
		if f, ok := s.playback.(Flusher); ok && s.buffer.Len() == 0 {
			if err := f.Flush(); err != nil {
				s.logger.Warn("Playback flush failed", "error", err)
			}
		}
	}
}

// PlaybackFeeder decodes inbound packets straight into the playback buffer.
// It runs on the control context and never blocks.
type PlaybackFeeder struct {
	decoder Decoder
	buffer  *PlaybackBuffer
	logger  *slog.Logger
	metrics *observe.Metrics
}

func NewPlaybackFeeder(decoder Decoder, buffer *PlaybackBuffer, logger *slog.Logger, metrics *observe.Metrics) *PlaybackFeeder {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &PlaybackFeeder{decoder: decoder, buffer: buffer, logger: logger, metrics: metrics}
}

// Feed reports whether the packet reached the buffer. Overruns and decode
// failures drop the packet.
func (f *PlaybackFeeder) Feed(packet []byte) bool {
	ctx := context.Background()
	slot := f.buffer.Reserve()
	if slot == nil {
		f.metrics.PlaybackOverruns.Add(ctx, 1)
		f.logger.Debug("Playback buffer full, dropping frame", "overruns", f.buffer.Overruns())
		return false
	}
	n, err := f.decoder.Decode(packet, slot)
	if err != nil {
		f.metrics.CodecErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", "decode")))
		f.logger.Debug("OPUS decode failed, dropping packet", "error", err, "size", len(packet))
		return false
	}
	f.buffer.Commit(n)
	return n > 0
}
