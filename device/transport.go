// Package device owns the serial connection to the stepper board.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/protocol"
	"go.bug.st/serial"
)

var (
	ErrNotConnected = errors.New("device not connected")
	ErrTimeout      = errors.New("timed out waiting for terminator")
	ErrExclusive    = errors.New("unable to acquire exclusive access to device")
)

// State of the connection
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	default:
		fallthrough
	case StateDisconnected:
		return "Disconnected"
	}
}

// Port is the subset of serial.Port used by the Transport
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	Close() error
}

// OpenFunc opens the port at path
type OpenFunc func(path string, baudRate int) (Port, error)

func openSerial(path string, baudRate int) (Port, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	return port, nil
}

type Config struct {
	Path     string
	BaudRate int
	// SettleDelay is waited after opening while the board resets
	SettleDelay time.Duration
	// ReadTimeout bounds ReadUntilTerminator when it is called with zero
	ReadTimeout  time.Duration
	PollInterval time.Duration
	// PulseReset toggles DTR/RTS after opening to force a board reset
	PulseReset bool
}

func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		BaudRate:     stringdriver.DefaultBaudRate,
		SettleDelay:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

// Transport is a connection to one serial device. All methods are safe for
// concurrent use but callers that need request/response pairs must serialize
// them themselves.
type Transport struct {
	cfg     Config
	open    OpenFunc
	evictor Evictor
	logger  *slog.Logger

	mtx   sync.Mutex
	port  Port
	state State
}

type Option func(*Transport)

func WithOpenFunc(open OpenFunc) Option {
	return func(t *Transport) {
		t.open = open
	}
}

func WithEvictor(e Evictor) Option {
	return func(t *Transport) {
		t.evictor = e
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

func New(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		cfg:     cfg,
		open:    openSerial,
		evictor: LsofEvictor{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("device", cfg.Path)
	return t
}

func (t *Transport) Path() string {
	return t.cfg.Path
}

func (t *Transport) State() State {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.state
}

// Connect terminates any other process holding the device, opens it and waits
// for the board to settle. An existing connection is closed first.
func (t *Transport) Connect(ctx context.Context) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	t.disconnect()

	killed, err := t.evictor.Evict(t.cfg.Path)
	if err != nil {
		t.logger.Warn("unable to evict device holders", "error", err)
	}
	if len(killed) > 0 {
		t.logger.Info("terminated processes holding device", "pids", killed)
	}

	port, err := t.open(t.cfg.Path, t.cfg.BaudRate)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrExclusive, t.cfg.Path, err)
	}

	if t.cfg.PulseReset {
		pulseReset(port)
	}

	select {
	case <-ctx.Done():
		port.Close()
		return ctx.Err()
	case <-time.After(t.cfg.SettleDelay):
	}

	if err := port.ResetInputBuffer(); err != nil {
		t.logger.Debug("unable to clear input after connect", "error", err)
	}

	t.port = port
	t.state = StateConnected
	t.logger.Info("connected", "baud_rate", t.cfg.BaudRate)

	return nil
}

func pulseReset(port Port) {
	_ = port.SetDTR(false)
	_ = port.SetRTS(false)
	time.Sleep(100 * time.Millisecond)
	_ = port.SetDTR(true)
	_ = port.SetRTS(true)
}

// disconnect must be called with the lock held
func (t *Transport) disconnect() {
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			t.logger.Debug("error closing port", "error", err)
		}
	}
	t.port = nil
	t.state = StateDisconnected
}

// fail drops the connection after a non-benign I/O error
func (t *Transport) fail(op string, err error) error {
	t.logger.Error("device I/O failed, disconnecting", "op", op, "error", err)
	t.disconnect()
	return fmt.Errorf("error during %s on %s: %w", op, t.cfg.Path, err)
}

// Write writes the whole frame and waits for it to leave the output buffer
func (t *Transport) Write(frame []byte) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.port == nil {
		return ErrNotConnected
	}

	n, err := t.port.Write(frame)
	if err != nil {
		return t.fail("write", err)
	}
	if n < len(frame) {
		return t.fail("write", io.ErrShortWrite)
	}
	if err := t.port.Drain(); err != nil {
		return t.fail("drain", err)
	}

	return nil
}

// ReadUntilTerminator polls the port until a complete frame arrives or timeout
// elapses. The returned frame ends with the terminator. On timeout the partial
// bytes are returned along with ErrTimeout.
func (t *Transport) ReadUntilTerminator(timeout time.Duration) ([]byte, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.port == nil {
		return nil, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = t.cfg.ReadTimeout
	}

	if err := t.port.SetReadTimeout(t.cfg.PollInterval); err != nil {
		return nil, t.fail("set read timeout", err)
	}

	buf := make([]byte, 0, 64)
	chunk := make([]byte, 256)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		n, err := t.port.Read(chunk)
		if err != nil && !isTimeout(err) {
			return nil, t.fail("read", err)
		}
		if n == 0 {
			time.Sleep(t.cfg.PollInterval)
			continue
		}

		buf = append(buf, chunk[:n]...)
		if end := protocol.FrameEnd(buf); end >= 0 {
			return buf[:end+1], nil
		}
	}

	return buf, fmt.Errorf("%w after %s", ErrTimeout, timeout)
}

// ClearInput discards unread input so stale bytes are not taken as a reply
func (t *Transport) ClearInput() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.port == nil {
		return ErrNotConnected
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("error clearing input: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.state = StateDisconnected
	return err
}

// isTimeout reports whether err only means that no data arrived in time
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout")
}
