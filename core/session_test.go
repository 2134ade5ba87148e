package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lisuiheng/voicebridge/indicator"
	"github.com/lisuiheng/voicebridge/observe"
	"github.com/lisuiheng/voicebridge/storage"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// recordingIndicator keeps every color it was set to.
type recordingIndicator struct {
	mu     sync.Mutex
	colors []indicator.Color
}

func (r *recordingIndicator) SetColor(c indicator.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors = append(r.colors, c)
	return nil
}

func (r *recordingIndicator) last() indicator.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.colors) == 0 {
		return indicator.Off
	}
	return r.colors[len(r.colors)-1]
}

func (r *recordingIndicator) all() []indicator.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]indicator.Color(nil), r.colors...)
}

// fakeControl records the type of every control frame.
type fakeControl struct {
	types []string
	fail  error
}

func (f *fakeControl) SendControl(payload []byte) error {
	if f.fail != nil {
		return f.fail
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	f.types = append(f.types, env.Type)
	return nil
}

type countingFeeder struct {
	packets int
}

func (f *countingFeeder) Feed([]byte) bool {
	f.packets++
	return true
}

type sessionHarness struct {
	session *Session
	state   *State
	control *fakeControl
	feeder  *countingFeeder
	light   *recordingIndicator
	store   *storage.MemoryStore
	reader  *sdkmetric.ManualReader
}

func newSessionHarness(t *testing.T) *sessionHarness {
	t.Helper()
	h := &sessionHarness{
		state:   NewState(),
		control: &fakeControl{},
		feeder:  &countingFeeder{},
		light:   &recordingIndicator{},
		store:   storage.NewMemoryStore(),
	}
	var metrics *observe.Metrics
	metrics, h.reader = newTestMetrics(t)
	ind := NewIndicatorController(h.light, discardLogger())
	h.session = NewSession(SessionConfig{
		Voice:        DefaultVoice,
		Instructions: DefaultInstructions,
		Subprotocol:  "realtime",
	}, h.state, h.control, h.feeder, ind, h.store, discardLogger(), metrics)
	h.session.now = func() time.Time { return time.UnixMilli(42) }
	return h
}

// driveTo walks the session along the normal path until it reaches target.
func (h *sessionHarness) driveTo(t *testing.T, target SessionState) {
	t.Helper()
	steps := []struct {
		from SessionState
		ev   Event
		next SessionState
	}{
		{StateDisconnected, ConnectionOpened{}, StateConnecting},
		{StateConnecting, HandshakeAccepted{Subprotocol: "realtime"}, StateConnected},
		{StateConnected, Inbound{Msg: SessionUpdated{}}, StateListening},
		{StateListening, ButtonPressed{}, StateBuffering},
		{StateBuffering, ButtonReleased{}, StateSpeaking},
	}
	for _, step := range steps {
		if h.state.Session() == target {
			return
		}
		if h.state.Session() != step.from {
			continue
		}
		h.session.Handle(step.ev)
		if got := h.state.Session(); got != step.next {
			t.Fatalf("after %T: state = %v, want %v", step.ev, got, step.next)
		}
	}
	if h.state.Session() != target {
		t.Fatalf("could not reach %v", target)
	}
}

func TestSession_ConnectAndConfigure(t *testing.T) {
	h := newSessionHarness(t)
	h.driveTo(t, StateListening)

	if len(h.control.types) != 1 || h.control.types[0] != TypeSessionUpdate {
		t.Errorf("sent = %v, want [session.update]", h.control.types)
	}
	want := []indicator.Color{indicator.Connecting, indicator.Connected, indicator.Listening}
	got := h.light.all()
	if len(got) != len(want) {
		t.Fatalf("colors = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("color %d = %v, want %v", i, got[i], want[i])
		}
	}
	if v, _ := h.store.Get(KeyLastSessionUpdate); v != "42" {
		t.Errorf("last_session_update = %q, want 42", v)
	}
}

func TestSession_PressThenReleaseFromListening(t *testing.T) {
	h := newSessionHarness(t)
	h.driveTo(t, StateListening)
	h.control.types = nil

	h.session.Handle(ButtonPressed{})
	if h.state.Session() != StateBuffering || !h.state.Recording() {
		t.Fatalf("after press: state=%v recording=%v", h.state.Session(), h.state.Recording())
	}
	if h.light.last() != indicator.Buffering {
		t.Errorf("light after press = %v", h.light.last())
	}

	h.session.Handle(ButtonReleased{})
	if h.state.Session() != StateSpeaking || h.state.Recording() {
		t.Fatalf("after release: state=%v recording=%v", h.state.Session(), h.state.Recording())
	}
	if h.light.last() != indicator.Speaking {
		t.Errorf("light after release = %v", h.light.last())
	}

	want := []string{TypeButtonPressed, TypeButtonReleased}
	if len(h.control.types) != 2 || h.control.types[0] != want[0] || h.control.types[1] != want[1] {
		t.Errorf("sent = %v, want %v", h.control.types, want)
	}
}

func TestSession_ConnectionLostFromEveryState(t *testing.T) {
	states := []SessionState{
		StateDisconnected, StateConnecting, StateConnected,
		StateListening, StateBuffering, StateSpeaking,
	}
	for _, st := range states {
		t.Run(st.String(), func(t *testing.T) {
			h := newSessionHarness(t)
			h.driveTo(t, st)

			h.session.Handle(ConnectionLost{Err: ErrConnectionLost})

			if got := h.state.Session(); got != StateDisconnected {
				t.Errorf("state = %v, want disconnected", got)
			}
			if h.state.Recording() {
				t.Error("recording flag still set")
			}
			if h.state.Connected() {
				t.Error("Connected() still true")
			}
			if st != StateDisconnected && h.light.last() != indicator.Disconnected {
				t.Errorf("light = %v, want red", h.light.last())
			}
		})
	}
}

func TestSession_ServerPhases(t *testing.T) {
	h := newSessionHarness(t)
	h.driveTo(t, StateConnected)

	// Phases before the session is configured are ignored.
	h.session.Handle(Inbound{Msg: BufferReady{}})
	if got := h.state.Session(); got != StateConnected {
		t.Fatalf("state = %v, want connected", got)
	}

	h.driveTo(t, StateListening)
	steps := []struct {
		msg  ServerMessage
		want SessionState
	}{
		{BufferReady{BufferSize: 10}, StateBuffering},
		{PlaybackStarted{}, StateSpeaking},
		{PlaybackCompleted{}, StateListening},
		{PlaybackStarted{}, StateSpeaking},
	}
	for _, s := range steps {
		h.session.Handle(Inbound{Msg: s.msg})
		if got := h.state.Session(); got != s.want {
			t.Errorf("after %T: state = %v, want %v", s.msg, got, s.want)
		}
	}
	if len(h.control.types) != 1 {
		t.Errorf("server phases produced client events: %v", h.control.types)
	}
}

func TestSession_PressIgnoredBeforeReady(t *testing.T) {
	h := newSessionHarness(t)
	h.driveTo(t, StateConnected)

	h.session.Handle(ButtonPressed{})
	h.session.Handle(ButtonReleased{})

	if h.state.Session() != StateConnected || h.state.Recording() {
		t.Errorf("state=%v recording=%v", h.state.Session(), h.state.Recording())
	}
	if len(h.control.types) != 1 {
		t.Errorf("sent = %v, want only session.update", h.control.types)
	}
}

func TestSession_FailedPressKeepsState(t *testing.T) {
	h := newSessionHarness(t)
	h.driveTo(t, StateListening)
	h.control.fail = errors.New("queue closed")

	h.session.Handle(ButtonPressed{})
	if h.state.Session() != StateListening || h.state.Recording() {
		t.Errorf("state=%v recording=%v", h.state.Session(), h.state.Recording())
	}
}

func TestSession_AudioRouting(t *testing.T) {
	h := newSessionHarness(t)
	delta := Inbound{Msg: AudioDelta{Packet: []byte{1}}}

	h.session.Handle(delta)
	if h.feeder.packets != 0 {
		t.Fatalf("audio fed while disconnected")
	}

	for _, st := range []SessionState{StateConnecting, StateConnected, StateListening, StateBuffering, StateSpeaking} {
		h.driveTo(t, st)
		before := h.feeder.packets
		h.session.Handle(delta)
		if h.feeder.packets != before+1 {
			t.Errorf("audio not fed in %v", st)
		}
	}
}

func TestSession_MalformedFramesAreDropped(t *testing.T) {
	h := newSessionHarness(t)
	h.driveTo(t, StateListening)

	frames := []string{
		`not json`,
		`{"no_type":true}`,
		`{"type":"response.audio.delta"}`,
		`{"type":"response.audio.delta","delta":"%%%"}`,
	}
	for _, f := range frames {
		h.session.HandleFrame([]byte(f))
	}
	// Unknown types are not malformed.
	h.session.HandleFrame([]byte(`{"type":"something.new"}`))

	if got := h.state.Session(); got != StateListening {
		t.Errorf("state = %v, want listening", got)
	}
	if got := sumOf(t, h.reader, "voicebridge.protocol.malformed"); got != int64(len(frames)) {
		t.Errorf("malformed = %d, want %d", got, len(frames))
	}
	if h.feeder.packets != 0 {
		t.Errorf("malformed audio reached the feeder")
	}
}

func TestSession_HandlesEveryKnownType(t *testing.T) {
	bodies := map[string]string{
		TypeAudioDelta: `"delta":"AQID"`,
		TypeTextDelta:  `"delta":"hi"`,
		TypeError:      `"error":{"type":"server_error","message":"boom"}`,
	}
	h := newSessionHarness(t)
	h.driveTo(t, StateListening)

	for _, typ := range KnownTypes() {
		raw := `{"type":"` + typ + `"`
		if b, ok := bodies[typ]; ok {
			raw += "," + b
		}
		raw += "}"
		h.session.HandleFrame([]byte(raw))
	}

	if h.session.unhandled != 0 {
		t.Errorf("%d registered message types fell through Handle", h.session.unhandled)
	}
	if got := sumOf(t, h.reader, "voicebridge.protocol.malformed"); got != 0 {
		t.Errorf("registered types parsed as malformed: %d", got)
	}
}

func TestSession_SubprotocolMismatchStillConnects(t *testing.T) {
	h := newSessionHarness(t)
	h.session.Handle(ConnectionOpened{})
	h.session.Handle(HandshakeAccepted{Subprotocol: ""})
	if got := h.state.Session(); got != StateConnected {
		t.Errorf("state = %v, want connected", got)
	}
}

func TestSession_TransitionsAreCounted(t *testing.T) {
	h := newSessionHarness(t)
	h.driveTo(t, StateSpeaking)
	if got := sumOf(t, h.reader, "voicebridge.session.transitions"); got != 5 {
		t.Errorf("transitions = %d, want 5", got)
	}
}
