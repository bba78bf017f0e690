// Package controller runs the closed-loop operations that keep each string's Z
// steppers at the right distance: bump checks against the touch sensors,
// calibration, audio driven adjustment and carriage homing.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBusy             = errors.New("another operation is running")
	ErrUnknownOperation = errors.New("unknown operation")
)

// Operation is a long-running Supervisor task
type Operation int32

const (
	OperationNone Operation = iota
	OperationBumpCheck
	OperationZCalibrate
	OperationZAdjust
	OperationXHome
	OperationXAway
	OperationXCalibrate
)

func (o Operation) String() string {
	switch o {
	case OperationBumpCheck:
		return "bump_check"
	case OperationZCalibrate:
		return "z_calibrate"
	case OperationZAdjust:
		return "z_adjust"
	case OperationXHome:
		return "x_home"
	case OperationXAway:
		return "x_away"
	case OperationXCalibrate:
		return "x_calibrate"
	default:
		fallthrough
	case OperationNone:
		return "none"
	}
}

func ParseOperation(s string) (Operation, error) {
	for op := OperationBumpCheck; op <= OperationXCalibrate; op++ {
		if s == op.String() {
			return op, nil
		}
	}
	return OperationNone, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// Request selects an operation and its arguments
type Request struct {
	Operation Operation
	// Axes limits a bump check to these Z steppers
	Axes       []int
	Thresholds Thresholds
	// Refresh reloads the position model from the firmware once the
	// Supervisor is claimed. Set it when other processes may have moved
	// steppers.
	Refresh bool
}

// Result is the outcome of one operation. Summary is meant for a human.
type Result struct {
	ID        string
	Operation Operation
	Summary   string
	Started   time.Time
	Finished  time.Time
}

type report struct {
	lines []string
}

func (r *report) add(format string, args ...any) {
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

func (r *report) String() string {
	return strings.Join(r.lines, "\n")
}

// Supervisor owns the position model and runs one operation at a time
type Supervisor struct {
	layout   Layout
	stepper  Stepper
	touch    TouchSensor
	limits   LimitSensor
	audio    AudioSource
	recorder Recorder
	logger   *slog.Logger
	sleep    func(time.Duration)

	settingsMtx sync.RWMutex
	settings    Settings

	positions *Positions
	enabled   *EnabledSet

	bumpEnabled atomic.Bool
	busy        atomic.Bool
	current     atomic.Int32
}

type Option func(*Supervisor)

func WithTouchSensor(t TouchSensor) Option {
	return func(s *Supervisor) {
		s.touch = t
	}
}

func WithLimitSensor(l LimitSensor) Option {
	return func(s *Supervisor) {
		s.limits = l
	}
}

func WithAudioSource(a AudioSource) Option {
	return func(s *Supervisor) {
		s.audio = a
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Supervisor) {
		s.recorder = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

func WithSettings(settings Settings) Option {
	return func(s *Supervisor) {
		s.settings = settings
	}
}

// WithSleep replaces time.Sleep for rest intervals
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Supervisor) {
		s.sleep = sleep
	}
}

func New(layout Layout, stepper Stepper, opts ...Option) (*Supervisor, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("error validating layout: %w", err)
	}

	s := &Supervisor{
		layout:    layout,
		stepper:   stepper,
		recorder:  noopRecorder{},
		logger:    slog.Default(),
		sleep:     time.Sleep,
		settings:  DefaultSettings(),
		positions: NewPositions(layout.NumSteppers),
		enabled:   NewEnabledSet(layout.Managed()),
	}
	s.bumpEnabled.Store(true)

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Supervisor) Layout() Layout {
	return s.layout
}

func (s *Supervisor) Settings() Settings {
	s.settingsMtx.RLock()
	defer s.settingsMtx.RUnlock()
	return s.settings
}

// SetSettings takes effect at the start of the next operation
func (s *Supervisor) SetSettings(settings Settings) {
	s.settingsMtx.Lock()
	defer s.settingsMtx.Unlock()
	s.settings = settings
}

func (s *Supervisor) Positions() *Positions {
	return s.positions
}

func (s *Supervisor) Enabled() *EnabledSet {
	return s.enabled
}

// SetBumpCheckEnabled turns bump checks on or off. Calibration also turns them
// off while it runs.
func (s *Supervisor) SetBumpCheckEnabled(enabled bool) {
	s.bumpEnabled.Store(enabled)
}

func (s *Supervisor) BumpCheckEnabled() bool {
	return s.bumpEnabled.Load()
}

func (s *Supervisor) Busy() bool {
	return s.busy.Load()
}

// Current is the running operation, or OperationNone
func (s *Supervisor) Current() Operation {
	return Operation(s.current.Load())
}

func (s *Supervisor) claim(op Operation) error {
	if !s.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrBusy, s.Current())
	}
	s.current.Store(int32(op))
	return nil
}

func (s *Supervisor) release() {
	s.current.Store(int32(OperationNone))
	s.busy.Store(false)
}

func (s *Supervisor) body(ctx context.Context, req Request) (func(*report) error, error) {
	var fn func(*report) error
	switch req.Operation {
	case OperationBumpCheck:
		fn = func(r *report) error { return s.bumpCheck(ctx, r, false, req.Axes) }
	case OperationZCalibrate:
		fn = func(r *report) error { return s.zCalibrate(ctx, r) }
	case OperationZAdjust:
		fn = func(r *report) error { return s.zAdjust(ctx, r, req.Thresholds) }
	case OperationXHome:
		fn = func(r *report) error { return s.xHome(ctx, r) }
	case OperationXAway:
		fn = func(r *report) error { return s.xAway(ctx, r) }
	case OperationXCalibrate:
		fn = func(r *report) error { return s.xCalibrate(ctx, r) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, req.Operation)
	}

	if !req.Refresh {
		return fn, nil
	}
	return func(r *report) error {
		if err := s.Refresh(); err != nil {
			return err
		}
		return fn(r)
	}, nil
}

// Run executes the operation on the calling goroutine. It fails with ErrBusy if
// another operation is running. The Result summary is filled in even when the
// operation returns an error.
func (s *Supervisor) Run(ctx context.Context, req Request) (Result, error) {
	fn, err := s.body(ctx, req)
	if err != nil {
		return Result{Operation: req.Operation}, err
	}
	if err := s.claim(req.Operation); err != nil {
		return Result{Operation: req.Operation}, err
	}
	defer s.release()

	return s.execute(ctx, req.Operation, fn)
}

// Go claims the Supervisor and runs the operation on a new goroutine. done is
// called after the Supervisor is released.
func (s *Supervisor) Go(ctx context.Context, req Request, done func(Result, error)) error {
	fn, err := s.body(ctx, req)
	if err != nil {
		return err
	}
	if err := s.claim(req.Operation); err != nil {
		return err
	}

	go func() {
		res, err := s.execute(ctx, req.Operation, fn)
		s.release()
		if done != nil {
			done(res, err)
		}
	}()

	return nil
}

func (s *Supervisor) execute(ctx context.Context, op Operation, fn func(*report) error) (Result, error) {
	res := Result{
		ID:        uuid.NewString(),
		Operation: op,
		Started:   time.Now(),
	}
	logger := s.logger.With("operation", op.String(), "id", res.ID)

	if err := s.recorder.AddStage(ctx, op.String(), res.Started); err != nil {
		logger.Warn("error recording stage", "error", err)
	}

	r := &report{}
	err := fn(r)
	if err != nil {
		r.add("Error: %v", err)
	}

	res.Summary = r.String()
	res.Finished = time.Now()

	logger.Info("operation finished", "duration", res.Finished.Sub(res.Started), "error", err)
	logger.Debug("operation summary", "summary", res.Summary)

	note := op.String() + " complete"
	if err != nil {
		note = op.String() + " failed: " + err.Error()
	}
	if err := s.recorder.AddEvent(context.WithoutCancel(ctx), note, res.Finished); err != nil {
		logger.Warn("error recording event", "error", err)
	}

	return res, err
}

func (s *Supervisor) BumpCheck(ctx context.Context, axes ...int) (Result, error) {
	return s.Run(ctx, Request{Operation: OperationBumpCheck, Axes: axes})
}

func (s *Supervisor) ZCalibrate(ctx context.Context) (Result, error) {
	return s.Run(ctx, Request{Operation: OperationZCalibrate})
}

func (s *Supervisor) ZAdjust(ctx context.Context, thresholds Thresholds) (Result, error) {
	return s.Run(ctx, Request{Operation: OperationZAdjust, Thresholds: thresholds})
}

func (s *Supervisor) XHome(ctx context.Context) (Result, error) {
	return s.Run(ctx, Request{Operation: OperationXHome})
}

func (s *Supervisor) XAway(ctx context.Context) (Result, error) {
	return s.Run(ctx, Request{Operation: OperationXAway})
}

func (s *Supervisor) XCalibrate(ctx context.Context) (Result, error) {
	return s.Run(ctx, Request{Operation: OperationXCalibrate})
}

// Refresh replaces the position model with the firmware's positions when the
// Stepper can report them
func (s *Supervisor) Refresh() error {
	reader, ok := s.stepper.(PositionReader)
	if !ok {
		return errors.New("stepper cannot report positions")
	}

	positions, err := reader.Positions(s.layout.NumSteppers)
	if err != nil {
		return fmt.Errorf("error refreshing positions: %w", err)
	}
	s.positions.Replace(positions)
	return nil
}
