package device

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/protocol"
)

// Emulator behaves like the stepper firmware without hardware. It decodes each
// written frame, tracks positions and answers positions queries.
type Emulator struct {
	cmds   stringdriver.CommandSet
	logger *slog.Logger

	mtx       sync.Mutex
	positions []int32
	params    map[int16]map[stringdriver.Verb]int32
	pending   []byte
	frames    [][]byte
}

func NewEmulator(numSteppers int, cmds stringdriver.CommandSet, logger *slog.Logger) *Emulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emulator{
		cmds:      cmds,
		logger:    logger.With("device", "emulator"),
		positions: make([]int32, numSteppers),
		params:    map[int16]map[stringdriver.Verb]int32{},
	}
}

func (e *Emulator) Write(frame []byte) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	e.frames = append(e.frames, append([]byte(nil), frame...))

	cmd, err := protocol.DecodeCommand(frame)
	if err != nil {
		e.logger.Warn("ignoring malformed frame", "frame", fmt.Sprintf("%q", frame), "error", err)
		return nil
	}

	if cmd.Query {
		if cmd.Verb == e.cmds.Positions {
			e.pending = protocol.EncodePositions(e.cmds.Positions, e.positions)
		}
		return nil
	}

	axis := int(cmd.Axis)
	if axis < 0 || axis >= len(e.positions) {
		e.logger.Warn("command for unknown axis", "axis", axis)
		return nil
	}

	switch cmd.Verb {
	case e.cmds.RelMove:
		e.positions[axis] += cmd.Value
	case e.cmds.AbsMove, e.cmds.SetStepper:
		e.positions[axis] = cmd.Value
	case e.cmds.SetAccel, e.cmds.SetSpeed, e.cmds.SetMin, e.cmds.SetMax:
		if e.params[cmd.Axis] == nil {
			e.params[cmd.Axis] = map[stringdriver.Verb]int32{}
		}
		e.params[cmd.Axis][cmd.Verb] = cmd.Value
	default:
		e.logger.Warn("unknown verb", "verb", cmd.Verb)
	}

	return nil
}

// ReadUntilTerminator returns the pending reply, or ErrTimeout if there is none
func (e *Emulator) ReadUntilTerminator(timeout time.Duration) ([]byte, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.pending == nil {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	reply := e.pending
	e.pending = nil
	return reply, nil
}

func (e *Emulator) ClearInput() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.pending = nil
	return nil
}

func (e *Emulator) Close() error {
	return nil
}

// Frames returns a copy of every frame written so far, in order
func (e *Emulator) Frames() [][]byte {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return append([][]byte(nil), e.frames...)
}

func (e *Emulator) Positions() []int32 {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return append([]int32(nil), e.positions...)
}

// Param returns the last value written for a parameter verb on axis
func (e *Emulator) Param(axis int16, verb stringdriver.Verb) (int32, bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	v, ok := e.params[axis][verb]
	return v, ok
}
