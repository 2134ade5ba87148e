package audio

import "fmt"

// Config fixes the device format at startup.
type Config struct {
	SampleRate int
	Channels   int
	// FrameSamples is the capture frame length handed to the encoder.
	FrameSamples int
	// MaxDecodedSamples bounds every decoded playback frame.
	MaxDecodedSamples int
}

// Validate checks that the format is usable by the pipeline.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("unsupported channel count: %d (mono only)", c.Channels)
	}
	if c.FrameSamples <= 0 {
		return fmt.Errorf("invalid frame size: %d", c.FrameSamples)
	}
	if c.MaxDecodedSamples < c.FrameSamples {
		return fmt.Errorf("max decoded samples %d below frame size %d", c.MaxDecodedSamples, c.FrameSamples)
	}
	return nil
}

// BytesToInt16 converts little-endian PCM bytes into samples, ignoring a
// trailing odd byte. dst is reused when large enough.
func BytesToInt16(dst []int16, b []byte) []int16 {
	n := len(b) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return dst
}
