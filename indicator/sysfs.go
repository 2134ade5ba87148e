package indicator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const ledClassDir = "/sys/class/leds"

var _ Indicator = (*SysfsLED)(nil)

// SysfsLED drives an RGB light exposed as three kernel LED class devices.
type SysfsLED struct {
	paths [3]string
}

// NewSysfsLED takes the LED class names of the red, green and blue
// channels. Names without a path separator are resolved under
// /sys/class/leds.
func NewSysfsLED(red, green, blue string) (*SysfsLED, error) {
	l := &SysfsLED{}
	for i, name := range []string{red, green, blue} {
		if name == "" {
			return nil, fmt.Errorf("led channel %d not configured", i)
		}
		dir := name
		if filepath.Base(name) == name {
			dir = filepath.Join(ledClassDir, name)
		}
		path := filepath.Join(dir, "brightness")
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("led %s: %w", name, err)
		}
		l.paths[i] = path
	}
	return l, nil
}

func (l *SysfsLED) SetColor(c Color) error {
	for i, v := range [3]uint8{c.R, c.G, c.B} {
		if err := os.WriteFile(l.paths[i], []byte(strconv.Itoa(int(v))), 0); err != nil {
			return fmt.Errorf("set led brightness: %w", err)
		}
	}
	return nil
}
