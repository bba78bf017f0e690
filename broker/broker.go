// Package broker shares one serial connection between every caller on the
// host. In-process callers use a Broker directly and other processes reach it
// through a Client over a unix socket. Each physical command, including its
// settle delay, runs under one lock so commands are never interleaved.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/controller"
	"github.com/calvinmclean/stringdriver/protocol"
)

var ErrInvalidAxis = errors.New("invalid axis")

// Device is the physical connection the Broker owns
type Device interface {
	Write(frame []byte) error
	ReadUntilTerminator(timeout time.Duration) ([]byte, error)
	ClearInput() error
}

// Runner executes Supervisor operations for clients. *controller.Supervisor
// implements it.
type Runner interface {
	Run(ctx context.Context, req controller.Request) (controller.Result, error)
}

type Broker struct {
	dev    Device
	cmds   stringdriver.CommandSet
	logger *slog.Logger
	sleep  func(time.Duration)

	moveSettle  time.Duration
	resetSettle time.Duration
	queryDelay  time.Duration
	readWindow  time.Duration

	runner   Runner
	// accepted observes each command once it holds the line
	accepted func(name string, axis int, value int32)

	mtx sync.Mutex
}

type Option func(*Broker)

func WithCommandSet(cmds stringdriver.CommandSet) Option {
	return func(b *Broker) {
		b.cmds = cmds
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// WithSettle sets how long the Broker holds the line after a move and after a
// counter reset
func WithSettle(move, reset time.Duration) Option {
	return func(b *Broker) {
		b.moveSettle = move
		b.resetSettle = reset
	}
}

// WithReadWindow sets how long a positions query waits for its reply
func WithReadWindow(d time.Duration) Option {
	return func(b *Broker) {
		b.readWindow = d
	}
}

// WithSleep replaces time.Sleep for settle delays
func WithSleep(sleep func(time.Duration)) Option {
	return func(b *Broker) {
		b.sleep = sleep
	}
}

func New(dev Device, opts ...Option) *Broker {
	b := &Broker{
		dev:         dev,
		cmds:        stringdriver.FirmwareV2.CommandSet(),
		logger:      slog.Default(),
		sleep:       time.Sleep,
		moveSettle:  500 * time.Millisecond,
		resetSettle: 100 * time.Millisecond,
		queryDelay:  50 * time.Millisecond,
		readWindow:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetRunner attaches the Supervisor that serves run requests. It must be
// called before Serve.
func (b *Broker) SetRunner(r Runner) {
	b.runner = r
}

func checkAxis(axis int) error {
	if axis < 0 || axis > math.MaxInt16 {
		return fmt.Errorf("%w: %d", ErrInvalidAxis, axis)
	}
	return nil
}

// send writes one command frame and holds the lock through the settle delay
func (b *Broker) send(name string, verb stringdriver.Verb, axis int, value int32, settle time.Duration) error {
	if err := checkAxis(axis); err != nil {
		return err
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.accepted != nil {
		b.accepted(name, axis, value)
	}

	if err := b.dev.ClearInput(); err != nil {
		b.logger.Debug("unable to clear input", "error", err)
	}

	b.logger.Debug("sending command", "command", name, "verb", verb, "axis", axis, "value", value)
	if err := b.dev.Write(protocol.Encode(verb, int16(axis), value)); err != nil {
		return fmt.Errorf("error sending %s for axis %d: %w", name, axis, err)
	}

	b.sleep(settle)
	return nil
}

// RelMove moves axis by delta steps
func (b *Broker) RelMove(axis int, delta int32) error {
	return b.send("rel_move", b.cmds.RelMove, axis, delta, b.moveSettle)
}

// AbsMove moves axis to position
func (b *Broker) AbsMove(axis int, position int32) error {
	return b.send("abs_move", b.cmds.AbsMove, axis, position, b.moveSettle)
}

// Reset sets the firmware's position counter for axis without moving it
func (b *Broker) Reset(axis int, position int32) error {
	return b.send("reset", b.cmds.SetStepper, axis, position, b.resetSettle)
}

// Disable is tracked by the caller since the firmware has no disable command
func (b *Broker) Disable(axis int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	b.logger.Warn("axis disabled", "axis", axis)
	return nil
}

// SetParam writes a motion parameter for axis
func (b *Broker) SetParam(axis int, p stringdriver.Param, value int32) error {
	verb, ok := b.cmds.ParamVerb(p)
	if !ok {
		return fmt.Errorf("unsupported parameter %s", p)
	}
	return b.send("set_"+p.String(), verb, axis, value, b.resetSettle)
}

// Positions queries the firmware for the first n axis positions
func (b *Broker) Positions(n int) ([]int32, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if err := b.dev.ClearInput(); err != nil {
		b.logger.Debug("unable to clear input", "error", err)
	}

	if err := b.dev.Write(protocol.EncodeQuery(b.cmds.Positions)); err != nil {
		return nil, fmt.Errorf("error sending positions query: %w", err)
	}
	b.sleep(b.queryDelay)

	frame, err := b.dev.ReadUntilTerminator(b.readWindow)
	if err != nil {
		return nil, fmt.Errorf("error reading positions: %w", err)
	}

	positions, err := protocol.DecodePositions(frame, n)
	if err != nil {
		return nil, fmt.Errorf("error decoding positions: %w", err)
	}
	return positions, nil
}
