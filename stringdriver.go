package stringdriver

import (
	"fmt"
	"strings"
	"time"
)

// Wire delimiters shared by the host and the stepper firmware
const (
	FieldSeparator    = ','
	CommandTerminator = ';'
	EscapeChar        = '/'
)

// DefaultBaudRate is the rate the stepper firmware listens on
const DefaultBaudRate = 115200

// Verb is the numeric command identifier understood by the firmware. It is sent
// on the wire as the ASCII character '0'+Verb.
type Verb uint8

// Firmware selects which command numbering the connected board uses
type Firmware int

const (
	FirmwareUnknown Firmware = iota
	FirmwareV1
	FirmwareV2
)

func (f Firmware) String() string {
	switch f {
	case FirmwareV1:
		return "v1"
	case FirmwareV2:
		return "v2"
	default:
		fallthrough
	case FirmwareUnknown:
		return "unknown"
	}
}

// ParseFirmware accepts "v1"/"v2" (or "1"/"2")
func ParseFirmware(s string) (Firmware, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "1":
		return FirmwareV1, nil
	case "v2", "2", "":
		return FirmwareV2, nil
	default:
		return FirmwareUnknown, fmt.Errorf("unknown firmware %q", s)
	}
}

// CommandSet maps each host operation to the firmware's verb
type CommandSet struct {
	Positions  Verb
	AbsMove    Verb
	RelMove    Verb
	SetStepper Verb
	SetAccel   Verb
	SetSpeed   Verb
	SetMin     Verb
	SetMax     Verb
}

// CommandSet returns the verbs for the firmware. Unknown firmware uses V2.
func (f Firmware) CommandSet() CommandSet {
	if f == FirmwareV1 {
		return CommandSet{
			Positions:  2,
			AbsMove:    3,
			RelMove:    4,
			SetStepper: 7,
			SetAccel:   8,
			SetSpeed:   9,
			SetMin:     10,
			SetMax:     11,
		}
	}
	return CommandSet{
		Positions:  1,
		AbsMove:    2,
		RelMove:    3,
		SetStepper: 6,
		SetAccel:   7,
		SetSpeed:   8,
		SetMin:     9,
		SetMax:     10,
	}
}

// Param is a per-axis motion parameter held by the firmware
type Param int

const (
	ParamUnknown Param = iota
	ParamAccel
	ParamSpeed
	ParamMin
	ParamMax
)

func (p Param) String() string {
	switch p {
	case ParamAccel:
		return "accel"
	case ParamSpeed:
		return "speed"
	case ParamMin:
		return "min"
	case ParamMax:
		return "max"
	default:
		fallthrough
	case ParamUnknown:
		return "unknown"
	}
}

func ParseParam(s string) (Param, error) {
	for _, p := range []Param{ParamAccel, ParamSpeed, ParamMin, ParamMax} {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return ParamUnknown, fmt.Errorf("unknown parameter %q", s)
}

// ParamVerb returns the verb that sets p
func (cs CommandSet) ParamVerb(p Param) (Verb, bool) {
	switch p {
	case ParamAccel:
		return cs.SetAccel, true
	case ParamSpeed:
		return cs.SetSpeed, true
	case ParamMin:
		return cs.SetMin, true
	case ParamMax:
		return cs.SetMax, true
	}
	return 0, false
}

// AudioSnapshot is the most recent per-string analysis from the audio collaborator.
// Index i of each slice belongs to string i.
type AudioSnapshot struct {
	VoiceCount []int
	AmpSum     []float64
	At         time.Time
}
