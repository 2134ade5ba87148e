package audio

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBufferFrames is the playback buffer depth used when none is configured.
const DefaultBufferFrames = 10

// Frame is a decoded frame owned by the playback side until Release.
type Frame struct {
	Samples []int16
	slot    int
}

// PlaybackBuffer is a single-producer single-consumer ring of preallocated
// frame slots. The producer decodes straight into a reserved slot, so no
// per-frame allocation happens after construction. Producing never blocks:
// when every slot is occupied the incoming frame is dropped and counted.
// Consuming blocks until a frame is committed.
type PlaybackBuffer struct {
	mu    sync.Mutex
	slots [][]int16
	lens  []int
	head  int
	count int
	held  bool

	ready    chan struct{}
	overruns atomic.Uint64
}

func NewPlaybackBuffer(capacity, maxSamples int) *PlaybackBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferFrames
	}
	arena := make([]int16, capacity*maxSamples)
	slots := make([][]int16, capacity)
	for i := range slots {
		slots[i] = arena[i*maxSamples : (i+1)*maxSamples : (i+1)*maxSamples]
	}
	return &PlaybackBuffer{
		slots: slots,
		lens:  make([]int, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Reserve returns the free slot the next Commit will publish, sized to the
// maximum frame length. It returns nil and records an overrun when full.
func (b *PlaybackBuffer) Reserve() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == len(b.slots) {
		b.overruns.Add(1)
		return nil
	}
	return b.slots[(b.head+b.count)%len(b.slots)]
}

// Commit publishes the first n samples of the reserved slot.
func (b *PlaybackBuffer) Commit(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	if b.count == len(b.slots) {
		b.mu.Unlock()
		return
	}
	tail := (b.head + b.count) % len(b.slots)
	if n > len(b.slots[tail]) {
		n = len(b.slots[tail])
	}
	b.lens[tail] = n
	b.count++
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Push copies pcm into the buffer. It reports false when the frame was
// dropped because the buffer is full.
func (b *PlaybackBuffer) Push(pcm []int16) bool {
	slot := b.Reserve()
	if slot == nil {
		return false
	}
	b.Commit(copy(slot, pcm))
	return true
}

// Pop blocks until a frame is available or ctx ends. The frame's slot stays
// occupied until Release.
func (b *PlaybackBuffer) Pop(ctx context.Context) (Frame, error) {
	for {
		b.mu.Lock()
		if b.count > 0 && !b.held {
			b.held = true
			f := Frame{Samples: b.slots[b.head][:b.lens[b.head]], slot: b.head}
			b.mu.Unlock()
			return f, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-b.ready:
		}
	}
}

// Release returns the slot of a popped frame to the producer.
func (b *PlaybackBuffer) Release(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.held || f.slot != b.head {
		return
	}
	b.held = false
	b.lens[b.head] = 0
	b.head = (b.head + 1) % len(b.slots)
	b.count--
}

// Len reports the occupied slots, including one held by the consumer.
func (b *PlaybackBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *PlaybackBuffer) Cap() int { return len(b.slots) }

// Overruns reports how many frames were dropped on a full buffer.
func (b *PlaybackBuffer) Overruns() uint64 { return b.overruns.Load() }
