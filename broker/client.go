package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/controller"
)

var (
	ErrOwnerUnreachable = errors.New("owner process not reachable")
	ErrRemote           = errors.New("broker rejected request")
)

// Client forwards commands to the Broker owning a device. Each call blocks
// until the Broker has executed the command, including its settle delay.
type Client struct {
	endpoint    string
	dialTimeout time.Duration
	timeout     time.Duration
	runTimeout  time.Duration
	logger      *slog.Logger
}

type ClientOption func(*Client)

// WithEndpoint overrides the socket path derived from the device path
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithTimeout bounds a single request and its reply
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRunTimeout bounds a run request. Operations can take minutes, so runs
// have no deadline by default.
func WithRunTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.runTimeout = d
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(devicePath string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    Endpoint(devicePath),
		dialTimeout: 2 * time.Second,
		timeout:     30 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) do(req Request) (Response, error) {
	return c.send(context.Background(), req, c.timeout)
}

// send makes one request. Closing the connection when ctx is done unblocks
// the wait for the reply.
func (c *Client) send(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	conn, err := net.DialTimeout("unix", c.endpoint, c.dialTimeout)
	if err != nil {
		return Response{}, fmt.Errorf("%w at %s: %w", ErrOwnerUnreachable, c.endpoint, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
			return Response{}, fmt.Errorf("error setting deadline: %w", err)
		}
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("error sending %s request: %w", req.Op, err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("error reading %s response: %w", req.Op, err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}

	return resp, nil
}

// RelMove implements controller.Stepper.
func (c *Client) RelMove(axis int, delta int32) error {
	_, err := c.do(Request{Op: OpRelMove, Axis: axis, Value: delta})
	return err
}

// AbsMove implements controller.Stepper.
func (c *Client) AbsMove(axis int, position int32) error {
	_, err := c.do(Request{Op: OpAbsMove, Axis: axis, Value: position})
	return err
}

// Reset implements controller.Stepper.
func (c *Client) Reset(axis int, position int32) error {
	_, err := c.do(Request{Op: OpReset, Axis: axis, Value: position})
	return err
}

// Disable implements controller.Stepper. Nothing is sent to the owner.
func (c *Client) Disable(axis int) error {
	c.logger.Warn("axis disabled", "axis", axis)
	return nil
}

func (c *Client) SetParam(axis int, p stringdriver.Param, value int32) error {
	_, err := c.do(Request{Op: OpSetParam, Axis: axis, Value: value, Param: p.String()})
	return err
}

// Positions implements controller.PositionReader.
func (c *Client) Positions(n int) ([]int32, error) {
	resp, err := c.do(Request{Op: OpPositions, Count: n})
	if err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// Run asks the owning process to run op on its Supervisor and waits for it to
// finish. The Result summary is returned even when the operation fails. A
// refused run wraps controller.ErrBusy. Cancelling ctx stops waiting but the
// operation keeps running in the owner.
func (c *Client) Run(ctx context.Context, op controller.Operation, axes []int, thresholds controller.Thresholds) (controller.Result, error) {
	req := Request{Op: OpRun, Operation: op.String(), Axes: axes, Thresholds: &thresholds}

	resp, err := c.send(ctx, req, c.runTimeout)
	res := resp.Result.result(op)
	if resp.Busy {
		return res, fmt.Errorf("%w: %w", ErrRemote, controller.ErrBusy)
	}
	return res, err
}
