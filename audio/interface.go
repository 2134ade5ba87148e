// audio/interface.go
package audio

import "context"

// Encoder compresses one capture frame. The returned packet is only valid
// until the next Encode call.
type Encoder interface {
	Encode(frame []int16) ([]byte, error)
}

// Decoder decompresses one packet into pcm, whose length is the maximum
// number of samples accepted, and returns the number of samples written.
type Decoder interface {
	Decode(packet []byte, pcm []int16) (int, error)
}

// CaptureEndpoint is the microphone side of the audio device.
type CaptureEndpoint interface {
	// ReadFrame blocks until len(frame) samples have been captured and
	// copies them into frame. It never returns a partial frame.
	ReadFrame(ctx context.Context, frame []int16) error
}

// PlaybackEndpoint is the speaker side of the audio device.
type PlaybackEndpoint interface {
	// WriteFrame blocks until the hardware queue has accepted every sample.
	WriteFrame(frame []int16) error
}

// Flusher is implemented by playback endpoints that hold back a partial
// device buffer. Flush plays it out padded with silence.
type Flusher interface {
	Flush() error
}

// Gate is the read side of the shared session state as seen by capture.
type Gate interface {
	Recording() bool
	Connected() bool
}

// PacketSink hands an encoded packet to the network boundary. It must not
// block; a busy boundary reports an error and the packet is dropped.
type PacketSink interface {
	SendAudio(packet []byte) error
}
