// Package opus adapts libopus to the pipeline's Encoder and Decoder contracts.
package opus

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hraban/opus"
	"github.com/lisuiheng/voicebridge/audio"
)

var (
	_ audio.Encoder = (*Encoder)(nil)
	_ audio.Decoder = (*Decoder)(nil)
)

// maxPacketBytes bounds one encoded packet on the wire.
const maxPacketBytes = 1920

var (
	ErrEncoderClosed = errors.New("encoder not initialized")
	ErrDecoderClosed = errors.New("decoder not initialized")
)

// EncoderConfig tunes the encoder for speech on a small CPU budget.
type EncoderConfig struct {
	SampleRate int
	Channels   int
	// FrameSamples is the only frame length Encode accepts.
	FrameSamples int
	Bitrate      int
	Complexity   int
	// Application is "voip" (default), "audio" or "lowdelay".
	Application string
}

func application(name string) (opus.Application, error) {
	switch name {
	case "", "voip":
		return opus.AppVoIP, nil
	case "audio":
		return opus.AppAudio, nil
	case "lowdelay":
		return opus.AppRestrictedLowdelay, nil
	default:
		return 0, fmt.Errorf("unknown opus application: %s", name)
	}
}

// Encoder OPUS音频编码器. It keeps one packet buffer, so the packet returned
// by Encode is overwritten by the next call.
type Encoder struct {
	encoder      *opus.Encoder
	frameSamples int
	packet       []byte
	logger       *slog.Logger
}

// NewEncoder creates an encoder. libopus runs variable bitrate by default;
// the target bitrate and complexity are set here.
func NewEncoder(cfg EncoderConfig, logger *slog.Logger) (*Encoder, error) {
	app, err := application(cfg.Application)
	if err != nil {
		return nil, err
	}
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, app)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}
	if err := enc.SetComplexity(cfg.Complexity); err != nil {
		return nil, fmt.Errorf("failed to set complexity: %w", err)
	}

	logger.Debug("OPUS encoder ready",
		"sample_rate", cfg.SampleRate,
		"bitrate", cfg.Bitrate,
		"complexity", cfg.Complexity,
		"frame_size", cfg.FrameSamples)

	return &Encoder{
		encoder:      enc,
		frameSamples: cfg.FrameSamples * cfg.Channels,
		packet:       make([]byte, maxPacketBytes),
		logger:       logger,
	}, nil
}

// Encode 编码PCM音频数据
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if e.encoder == nil {
		return nil, ErrEncoderClosed
	}
	if len(pcm) != e.frameSamples {
		return nil, fmt.Errorf("opus encode: frame has %d samples, want %d", len(pcm), e.frameSamples)
	}

	n, err := e.encoder.Encode(pcm, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return e.packet[:n], nil
}

// Close 释放编码器资源
func (e *Encoder) Close() {
	e.encoder = nil
}

// Decoder OPUS音频解码器
type Decoder struct {
	decoder  *opus.Decoder
	channels int
	logger   *slog.Logger
}

// NewDecoder 创建新的OPUS解码器
func NewDecoder(sampleRate, channels int, logger *slog.Logger) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &Decoder{
		decoder:  dec,
		channels: channels,
		logger:   logger,
	}, nil
}

// Decode writes at most len(pcm) samples and returns how many were written.
func (d *Decoder) Decode(packet []byte, pcm []int16) (int, error) {
	if d.decoder == nil {
		return 0, ErrDecoderClosed
	}
	if len(packet) == 0 {
		return 0, errors.New("opus decode: empty packet")
	}

	n, err := d.decoder.Decode(packet, pcm)
	if err != nil {
		return 0, fmt.Errorf("opus decode failed: %w", err)
	}
	return n * d.channels, nil
}

// Close 释放解码器资源
func (d *Decoder) Close() {
	d.decoder = nil
}
