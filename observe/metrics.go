// Package observe holds the OpenTelemetry instruments recorded by the audio
// pipeline and the session protocol, and the provider that exports them for
// Prometheus scraping.
//
// Components take a *Metrics at construction. Tests should build one with
// [NewMetrics] over an sdkmetric.ManualReader; code that does not care about
// metrics can use [Discard].
package observe

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for every voicebridge instrument.
const meterName = "github.com/lisuiheng/voicebridge"

// Metrics holds all instruments. The OTel types synchronise internally so a
// single value is shared by the capture, playback and control contexts.
type Metrics struct {
	// CaptureFrames counts frames read from the capture endpoint.
	CaptureFrames metric.Int64Counter

	// CaptureSent counts encoded packets handed to the network boundary.
	CaptureSent metric.Int64Counter

	// CaptureDropped counts captured frames not transmitted. Use with
	// attribute.String("reason", "idle"|"disconnected"|"send_busy"|"encode").
	CaptureDropped metric.Int64Counter

	// CodecErrors counts codec failures. Use with attribute.String("op", "encode"|"decode").
	CodecErrors metric.Int64Counter

	// PlaybackOverruns counts decoded frames dropped because the playback buffer was full.
	PlaybackOverruns metric.Int64Counter

	// PlaybackFrames counts frames written to the playback endpoint.
	PlaybackFrames metric.Int64Counter

	// MalformedMessages counts inbound control frames discarded as unparsable.
	MalformedMessages metric.Int64Counter

	// SessionTransitions counts committed state changes. Use with attribute.String("to", ...).
	SessionTransitions metric.Int64Counter

	// ConnectionAttempts counts dials. Use with attribute.String("result", "ok"|"error").
	ConnectionAttempts metric.Int64Counter
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.CaptureFrames, "voicebridge.capture.frames", "Frames read from the microphone."},
		{&met.CaptureSent, "voicebridge.capture.sent", "Encoded packets queued for transmission."},
		{&met.CaptureDropped, "voicebridge.capture.dropped", "Captured frames that were not transmitted."},
		{&met.CodecErrors, "voicebridge.codec.errors", "Opus encode or decode failures."},
		{&met.PlaybackOverruns, "voicebridge.playback.overruns", "Decoded frames dropped on a full playback buffer."},
		{&met.PlaybackFrames, "voicebridge.playback.frames", "Frames written to the speaker."},
		{&met.MalformedMessages, "voicebridge.protocol.malformed", "Inbound control frames discarded as malformed."},
		{&met.SessionTransitions, "voicebridge.session.transitions", "Committed session state transitions."},
		{&met.ConnectionAttempts, "voicebridge.connection.attempts", "Connection attempts to the voice service."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}
	return met, nil
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// The noop provider never fails.
		panic(err)
	}
	return m
}
