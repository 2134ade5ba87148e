// Package input turns the raw level of the physical button into debounced
// press and release edges.
package input

import "time"

const DefaultDebounce = 50 * time.Millisecond

type Edge int

const (
	EdgePress Edge = iota + 1
	EdgeRelease
)

func (e Edge) String() string {
	switch e {
	case EdgePress:
		return "press"
	case EdgeRelease:
		return "release"
	default:
		return "none"
	}
}

// Debouncer accepts a level change only after the raw input has held the new
// level for the whole window. It is a pure state machine; the caller supplies
// the sample times.
type Debouncer struct {
	window    time.Duration
	stable    bool
	pending   bool
	candidate bool
	since     time.Time
}

func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{window: window}
}

// Update feeds one raw sample (true = pressed) and reports the edge, if any,
// that this sample completes.
func (d *Debouncer) Update(raw bool, now time.Time) (Edge, bool) {
	if raw == d.stable {
		d.pending = false
		return 0, false
	}
	if !d.pending || raw != d.candidate {
		d.pending = true
		d.candidate = raw
		d.since = now
		return 0, false
	}
	if now.Sub(d.since) < d.window {
		return 0, false
	}

	d.stable = raw
	d.pending = false
	if raw {
		return EdgePress, true
	}
	return EdgeRelease, true
}

// Pressed reports the debounced level.
func (d *Debouncer) Pressed() bool {
	return d.stable
}
