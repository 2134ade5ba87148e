package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
	"github.com/lisuiheng/voicebridge/audio"
)

var _ audio.PlaybackEndpoint = (*Playback)(nil)

type PlaybackConfig struct {
	SampleRate int
	Channels   int
	// FramesPerBuffer is the size of one blocking write.
	FramesPerBuffer int
}

// streamWriter hands the stream buffer to the device.
type streamWriter interface {
	Write() error
}

// Playback PortAudio扬声器端点. It uses a blocking stream, so a full buffer
// returns only once the device has taken the samples and the device clock
// paces the playback loop. Decoded frames of any length are packed back to
// back into the stream buffer; a partial buffer waits for the next frame or
// for Flush.
type Playback struct {
	stream *portaudio.Stream
	w      streamWriter
	out    []int16
	fill   int
	logger *slog.Logger
}

func NewPlayback(cfg PlaybackConfig, logger *slog.Logger) (*Playback, error) {
	if cfg.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("invalid frames per buffer: %d", cfg.FramesPerBuffer)
	}

	// 初始化PortAudio
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p := &Playback{
		out:    make([]int16, cfg.FramesPerBuffer*cfg.Channels),
		logger: logger,
	}

	stream, err := portaudio.OpenDefaultStream(
		0,                       // 不录音
		cfg.Channels,            // 输出通道数
		float64(cfg.SampleRate), // 采样率
		cfg.FramesPerBuffer,
		&p.out,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	p.stream = stream
	p.w = stream

	logger.Info("Audio playback device started",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frames_per_buffer", cfg.FramesPerBuffer)
	return p, nil
}

// WriteFrame appends the frame to the stream buffer, writing every buffer
// that fills up. Leftover samples are kept for the next call.
func (p *Playback) WriteFrame(frame []int16) error {
	for len(frame) > 0 {
		n := copy(p.out[p.fill:], frame)
		p.fill += n
		frame = frame[n:]

		if p.fill == len(p.out) {
			if err := p.write(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush plays any buffered samples, padding the buffer with silence.
func (p *Playback) Flush() error {
	if p.fill == 0 {
		return nil
	}
	clear(p.out[p.fill:])
	return p.write()
}

func (p *Playback) write() error {
	p.fill = 0
	if err := p.w.Write(); err != nil {
		if errors.Is(err, portaudio.OutputUnderflowed) {
			p.logger.Debug("Playback underflow")
			return nil
		}
		return fmt.Errorf("playback write failed: %w", err)
	}
	return nil
}

func (p *Playback) Close() error {
	if p.stream != nil {
		if err := p.Flush(); err != nil {
			p.logger.Warn("failed to flush audio stream", "error", err)
		}
		// 停止并关闭音频流
		if err := p.stream.Stop(); err != nil {
			p.logger.Error("failed to stop audio stream", "error", err)
		}
		if err := p.stream.Close(); err != nil {
			p.logger.Error("failed to close audio stream", "error", err)
		}
		p.stream = nil
	}

	portaudio.Terminate()
	return nil
}
