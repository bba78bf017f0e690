package controller

import "github.com/calvinmclean/stringdriver"

// Stepper issues motion commands. Implementations block until the command has
// settled.
type Stepper interface {
	RelMove(axis int, delta int32) error
	AbsMove(axis int, position int32) error
	// Reset sets the position counter without moving
	Reset(axis int, position int32) error
	Disable(axis int) error
}

// PositionReader is implemented by Steppers that can report the firmware's
// positions
type PositionReader interface {
	Positions(n int) ([]int32, error)
}

// TouchSensor reports whether the sensor under a Z stepper is in contact
type TouchSensor interface {
	Touched(index int) (bool, error)
}

// LimitSensor reports the carriage limit switches
type LimitSensor interface {
	AtHome() (bool, error)
	AtAway() (bool, error)
}

type AudioSource interface {
	Snapshot() (stringdriver.AudioSnapshot, bool)
}
