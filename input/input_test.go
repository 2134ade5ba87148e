package input

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Unix(1700000000, 0)

func TestDebouncer(t *testing.T) {
	tests := []struct {
		name    string
		samples func(yield func(raw bool, at time.Duration))
		want    []Edge
	}{
		{
			name: "bounce faster than the window",
			samples: func(yield func(bool, time.Duration)) {
				for i := 0; i < 100; i++ {
					yield(i%2 == 0, time.Duration(i)*5*time.Millisecond)
				}
			},
			want: nil,
		},
		{
			name: "press held past the window",
			samples: func(yield func(bool, time.Duration)) {
				for ms := 0; ms <= 200; ms += 10 {
					yield(true, time.Duration(ms)*time.Millisecond)
				}
			},
			want: []Edge{EdgePress},
		},
		{
			name: "press and release",
			samples: func(yield func(bool, time.Duration)) {
				for ms := 0; ms < 1000; ms += 10 {
					yield(true, time.Duration(ms)*time.Millisecond)
				}
				for ms := 1000; ms < 1200; ms += 10 {
					yield(false, time.Duration(ms)*time.Millisecond)
				}
			},
			want: []Edge{EdgePress, EdgeRelease},
		},
		{
			name: "bounce then settle",
			samples: func(yield func(bool, time.Duration)) {
				for ms := 0; ms < 40; ms += 5 {
					yield(ms%10 == 0, time.Duration(ms)*time.Millisecond)
				}
				for ms := 40; ms < 200; ms += 10 {
					yield(true, time.Duration(ms)*time.Millisecond)
				}
			},
			want: []Edge{EdgePress},
		},
		{
			name: "press shorter than the window",
			samples: func(yield func(bool, time.Duration)) {
				for ms := 0; ms < 40; ms += 10 {
					yield(true, time.Duration(ms)*time.Millisecond)
				}
				for ms := 40; ms < 200; ms += 10 {
					yield(false, time.Duration(ms)*time.Millisecond)
				}
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(50 * time.Millisecond)
			var got []Edge
			tt.samples(func(raw bool, at time.Duration) {
				if e, ok := d.Update(raw, t0.Add(at)); ok {
					got = append(got, e)
				}
			})
			if len(got) != len(tt.want) {
				t.Fatalf("edges = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("edge %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

type scriptedButton struct {
	levels []bool
	err    error
	i      int
}

func (b *scriptedButton) Pressed() (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	v := b.levels[b.i%len(b.levels)]
	b.i++
	return v, nil
}

func TestMonitorPoll(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	btn := &scriptedButton{levels: []bool{true}}
	m := NewMonitor(btn, 50*time.Millisecond, logger)

	var edges []Edge
	for ms := 0; ms <= 100; ms += 10 {
		if e, ok := m.Poll(t0.Add(time.Duration(ms) * time.Millisecond)); ok {
			edges = append(edges, e)
		}
	}
	if len(edges) != 1 || edges[0] != EdgePress {
		t.Fatalf("edges = %v, want [press]", edges)
	}

	// A broken input reads as released.
	btn.err = errors.New("gpio gone")
	for ms := 110; ms <= 300; ms += 10 {
		if e, ok := m.Poll(t0.Add(time.Duration(ms) * time.Millisecond)); ok {
			edges = append(edges, e)
		}
	}
	if len(edges) != 2 || edges[1] != EdgeRelease {
		t.Fatalf("edges = %v, want [press release]", edges)
	}
}

func TestSysfsGPIO_ActiveLow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	write := func(v string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(v), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("1\n")

	g, err := OpenSysfsGPIO(-1, path, true)
	if err != nil {
		t.Fatalf("OpenSysfsGPIO: %v", err)
	}
	defer g.Close()

	if pressed, err := g.Pressed(); err != nil || pressed {
		t.Errorf("high line: pressed=%v err=%v, want released", pressed, err)
	}
	write("0\n")
	if pressed, err := g.Pressed(); err != nil || !pressed {
		t.Errorf("low line: pressed=%v err=%v, want pressed", pressed, err)
	}
}
