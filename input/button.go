package input

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Button reads the logical level of the physical button.
type Button interface {
	Pressed() (bool, error)
}

// Monitor samples a Button through a Debouncer. It is driven from the
// control loop's ticker.
type Monitor struct {
	button    Button
	debouncer *Debouncer
	logger    *slog.Logger
	failing   bool
}

func NewMonitor(button Button, window time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		button:    button,
		debouncer: NewDebouncer(window),
		logger:    logger,
	}
}

// Poll takes one sample. A failed read counts as "not pressed" for the
// debouncer and is logged once until reads recover.
func (m *Monitor) Poll(now time.Time) (Edge, bool) {
	pressed, err := m.button.Pressed()
	if err != nil {
		if !m.failing {
			m.logger.Warn("Button read failed", "error", err)
			m.failing = true
		}
		pressed = false
	} else if m.failing {
		m.logger.Info("Button read recovered")
		m.failing = false
	}

	edge, ok := m.debouncer.Update(pressed, now)
	if ok {
		m.logger.Debug("Button edge", "edge", edge)
	}
	return edge, ok
}

var _ Button = (*SysfsGPIO)(nil)

// SysfsGPIO reads a button wired to a GPIO exported through sysfs. The
// button pulls the line low when pressed.
type SysfsGPIO struct {
	mu        sync.Mutex
	file      *os.File
	activeLow bool
	buf       [2]byte
}

// OpenSysfsGPIO opens /sys/class/gpio/gpio<pin>/value, or path directly
// when pin is negative.
func OpenSysfsGPIO(pin int, path string, activeLow bool) (*SysfsGPIO, error) {
	if pin >= 0 {
		path = filepath.Join("/sys/class/gpio", "gpio"+strconv.Itoa(pin), "value")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	return &SysfsGPIO{file: f, activeLow: activeLow}, nil
}

func (g *SysfsGPIO) Pressed() (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.file.ReadAt(g.buf[:], 0)
	if n == 0 {
		if err == nil {
			err = errors.New("empty gpio value")
		}
		return false, fmt.Errorf("read gpio: %w", err)
	}
	high := g.buf[0] == '1'
	return high != g.activeLow, nil
}

func (g *SysfsGPIO) Close() error {
	return g.file.Close()
}
