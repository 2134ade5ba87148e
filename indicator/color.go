// Package indicator drives the device's single RGB light.
package indicator

import "fmt"

// Color is one RGB triple as sent to the light.
type Color struct {
	R, G, B uint8
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// 状态颜色
var (
	Off          = Color{0, 0, 0}
	Disconnected = Color{255, 0, 0}     // red
	Provisioning = Color{255, 165, 0}   // orange
	Connecting   = Color{255, 255, 255} // white
	Connected    = Color{0, 255, 0}     // green
	Listening    = Color{0, 0, 255}     // blue
	Speaking     = Color{255, 255, 0}   // yellow
	Buffering    = Color{255, 0, 255}   // magenta
)
