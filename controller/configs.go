package controller

import (
	"errors"
	"fmt"
	"time"
)

// Layout assigns roles to stepper indices. Z steppers come in pairs, one
// pair per string: the in stepper at ZFirstIndex+2*s and the out stepper
// right after it.
type Layout struct {
	NumSteppers int
	// XIndex is the carriage stepper, or -1 when there is none
	XIndex  int
	XMaxPos int32

	ZFirstIndex int
	StringNum   int

	TunerFirstIndex int
	TunerCount      int
}

func (l Layout) Validate() error {
	if l.StringNum <= 0 {
		return errors.New("string count must be positive")
	}
	if l.ZFirstIndex < 0 {
		return fmt.Errorf("invalid Z first index %d", l.ZFirstIndex)
	}
	last := l.ZFirstIndex + 2*l.StringNum
	if l.NumSteppers < last {
		return fmt.Errorf("%d steppers cannot hold Z steppers %d to %d", l.NumSteppers, l.ZFirstIndex, last-1)
	}
	if l.HasX() && (l.XIndex >= l.NumSteppers || l.IsZ(l.XIndex)) {
		return fmt.Errorf("invalid X index %d", l.XIndex)
	}
	if l.TunerCount > 0 && (l.TunerFirstIndex < 0 || l.TunerFirstIndex+l.TunerCount > l.NumSteppers) {
		return fmt.Errorf("invalid tuner range %d+%d", l.TunerFirstIndex, l.TunerCount)
	}
	return nil
}

func (l Layout) HasX() bool {
	return l.XIndex >= 0
}

func (l Layout) ZIndices() []int {
	indices := make([]int, 0, 2*l.StringNum)
	for i := range 2 * l.StringNum {
		indices = append(indices, l.ZFirstIndex+i)
	}
	return indices
}

func (l Layout) IsZ(axis int) bool {
	return axis >= l.ZFirstIndex && axis < l.ZFirstIndex+2*l.StringNum
}

// ZPair returns the in and out steppers for a string
func (l Layout) ZPair(str int) (int, int) {
	in := l.ZFirstIndex + 2*str
	return in, in + 1
}

// SensorIndex is the touch sensor wired to a Z stepper
func (l Layout) SensorIndex(axis int) int {
	return axis - l.ZFirstIndex
}

func (l Layout) TunerIndices() []int {
	indices := make([]int, 0, l.TunerCount)
	for i := range l.TunerCount {
		indices = append(indices, l.TunerFirstIndex+i)
	}
	return indices
}

// Managed returns every stepper the Supervisor tracks as enabled or disabled
func (l Layout) Managed() []int {
	managed := l.ZIndices()
	if l.HasX() {
		managed = append(managed, l.XIndex)
	}
	return append(managed, l.TunerIndices()...)
}

// Settings are the tunable values for Supervisor operations
type Settings struct {
	// UpStep moves a Z stepper away from the string and must be positive
	UpStep int32
	// DownStep moves a Z stepper toward the string and must be negative
	DownStep int32

	ZRest   time.Duration
	LapRest time.Duration
	XRest   time.Duration
	XStep   int32

	ZMin        int32
	DefaultZMax int32
	ZMax        map[int]int32

	BumpIterations  int
	ClearIterations int
	XIterations     int
}

func DefaultSettings() Settings {
	return Settings{
		UpStep:          2,
		DownStep:        -2,
		ZRest:           time.Second,
		LapRest:         4 * time.Second,
		XRest:           5 * time.Second,
		XStep:           10,
		ZMin:            0,
		DefaultZMax:     100,
		BumpIterations:  50,
		ClearIterations: 10,
		XIterations:     1000,
	}
}

// MaxPos is the highest position a Z stepper may be driven to
func (s Settings) MaxPos(axis int) int32 {
	if v, ok := s.ZMax[axis]; ok {
		return v
	}
	return s.DefaultZMax
}

var (
	ErrInvalidUpStep   = errors.New("up step must be positive to move away from the string")
	ErrInvalidDownStep = errors.New("down step must be negative to move toward the string")
)

func (s Settings) checkUp() error {
	if s.UpStep <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidUpStep, s.UpStep)
	}
	return nil
}

func (s Settings) checkDown() error {
	if s.DownStep >= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDownStep, s.DownStep)
	}
	return nil
}

// Thresholds bound the audio analysis for each string. Missing entries fall
// back to fixed defaults in Classify.
type Thresholds struct {
	AmpSumMin []float64 `json:"amp_sum_min,omitempty"`
	AmpSumMax []float64 `json:"amp_sum_max,omitempty"`
	VoiceMin  []int     `json:"voice_min,omitempty"`
	VoiceMax  []int     `json:"voice_max,omitempty"`
}

func DefaultThresholds(strings int) Thresholds {
	t := Thresholds{
		AmpSumMin: make([]float64, strings),
		AmpSumMax: make([]float64, strings),
		VoiceMin:  make([]int, strings),
		VoiceMax:  make([]int, strings),
	}
	for i := range strings {
		t.AmpSumMin[i] = 20
		t.AmpSumMax[i] = 250
		t.VoiceMin[i] = 2
		t.VoiceMax[i] = 12
	}
	return t
}

func at[T any](values []T, i int, fallback T) T {
	if i < len(values) {
		return values[i]
	}
	return fallback
}

// Proximity of a string to its pickup, judged from audio
type Proximity int

const (
	InRange Proximity = iota
	TooClose
	TooFar
)

func (p Proximity) String() string {
	switch p {
	case TooClose:
		return "too close"
	case TooFar:
		return "too far"
	default:
		fallthrough
	case InRange:
		return "in range"
	}
}

// Classify judges one string. Being too close wins when both apply.
func (t Thresholds) Classify(str int, ampSum float64, voices int) Proximity {
	ampMin := at(t.AmpSumMin, str, 20)
	ampMax := at(t.AmpSumMax, str, 100)
	voiceMin := at(t.VoiceMin, str, 0)
	voiceMax := at(t.VoiceMax, str, 12)

	switch {
	case ampSum > ampMax || voices > voiceMax:
		return TooClose
	case ampSum < ampMin || voices < voiceMin:
		return TooFar
	default:
		return InRange
	}
}
