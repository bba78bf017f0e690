// Package gpio reads the touch sensors under the Z steppers and the carriage
// limit switches. Every input is pulled up and reads low while pressed.
package gpio

import "errors"

var ErrUnsupported = errors.New("gpio is only supported on linux")

type Config struct {
	// Chip is a gpiochip name such as "gpiochip0". Empty picks the first chip
	// with enough lines for every configured pin.
	Chip string
	// TouchPins holds one line offset per Z stepper, in Z stepper order
	TouchPins []int
	// HomePin and AwayPin are the carriage limits, or -1 when absent
	HomePin int
	AwayPin int
}

func (c Config) pins() []int {
	pins := append([]int(nil), c.TouchPins...)
	for _, p := range []int{c.HomePin, c.AwayPin} {
		if p >= 0 {
			pins = append(pins, p)
		}
	}
	return pins
}

func (c Config) maxPin() int {
	highest := -1
	for _, p := range c.pins() {
		highest = max(highest, p)
	}
	return highest
}
