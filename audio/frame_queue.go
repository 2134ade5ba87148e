package audio

import (
	"context"
	"sync/atomic"
)

// FrameQueue turns a stream of device callbacks of arbitrary length into
// whole capture frames. The device side writes without blocking; when the
// reader falls behind by more than depth frames the newest frame is dropped.
// Buffers are allocated once at construction.
type FrameQueue struct {
	frameSamples int
	pending      []int16
	fill         int
	scratch      []int16

	frames  chan []int16
	free    chan []int16
	dropped atomic.Uint64
}

func NewFrameQueue(frameSamples, depth int) *FrameQueue {
	if depth <= 0 {
		depth = 1
	}
	q := &FrameQueue{
		frameSamples: frameSamples,
		pending:      make([]int16, frameSamples),
		frames:       make(chan []int16, depth),
		free:         make(chan []int16, depth),
	}
	for i := 0; i < depth; i++ {
		q.free <- make([]int16, frameSamples)
	}
	return q
}

// Write appends samples. Only one goroutine may write.
func (q *FrameQueue) Write(pcm []int16) {
	for len(pcm) > 0 {
		n := copy(q.pending[q.fill:], pcm)
		q.fill += n
		pcm = pcm[n:]
		if q.fill == q.frameSamples {
			q.deliver()
		}
	}
}

// WriteBytes appends little-endian 16-bit samples. A trailing odd byte is
// ignored.
func (q *FrameQueue) WriteBytes(b []byte) {
	q.scratch = BytesToInt16(q.scratch, b)
	q.Write(q.scratch)
}

func (q *FrameQueue) deliver() {
	q.fill = 0
	select {
	case buf := <-q.free:
		copy(buf, q.pending)
		// Never blocks: there are as many buffers as queue slots.
		q.frames <- buf
	default:
		q.dropped.Add(1)
	}
}

// ReadFrame blocks until a whole frame is available.
func (q *FrameQueue) ReadFrame(ctx context.Context, frame []int16) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case buf := <-q.frames:
		copy(frame, buf)
		q.free <- buf
		return nil
	}
}

// Dropped reports frames lost because the reader fell behind.
func (q *FrameQueue) Dropped() uint64 {
	return q.dropped.Load()
}
