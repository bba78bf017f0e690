package broker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"sync"

	"github.com/calvinmclean/stringdriver"
	"github.com/calvinmclean/stringdriver/controller"
)

// ListenAndServe binds the unix socket at endpoint, replacing a stale socket
// file, and serves until ctx is done
func (b *Broker) ListenAndServe(ctx context.Context, endpoint string) error {
	err := os.Remove(endpoint)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", endpoint, err)
	}

	if err := os.Chmod(endpoint, 0o660); err != nil {
		ln.Close()
		return fmt.Errorf("error setting socket permissions: %w", err)
	}

	b.logger.Info("broker listening", "endpoint", endpoint)
	return b.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Each connection is handled
// on its own goroutine and may send any number of requests.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			b.handle(ctx, conn)
		}()
	}
}

func (b *Broker) handle(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := b.dispatch(ctx, line)
		if err := enc.Encode(resp); err != nil {
			b.logger.Debug("error writing response", "error", err)
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		b.logger.Debug("connection closed with error", "error", err)
	}
}

func (b *Broker) dispatch(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		b.logger.Warn("malformed request", "error", err)
		return errorResponse("malformed request: %v", err)
	}

	var err error
	switch req.Op {
	case OpRelMove:
		err = b.RelMove(req.Axis, req.Value)
	case OpAbsMove:
		err = b.AbsMove(req.Axis, req.Value)
	case OpReset:
		err = b.Reset(req.Axis, req.Value)
	case OpSetParam:
		var p stringdriver.Param
		p, err = stringdriver.ParseParam(req.Param)
		if err == nil {
			err = b.SetParam(req.Axis, p, req.Value)
		}
	case OpPositions:
		if req.Count <= 0 {
			return errorResponse("positions requires a positive count")
		}
		positions, err := b.Positions(req.Count)
		if err != nil {
			return errorResponse("%v", err)
		}
		return Response{OK: true, Positions: positions}
	case OpRun:
		return b.run(ctx, req)
	default:
		return errorResponse("unknown op %q", req.Op)
	}

	if err != nil {
		return errorResponse("%v", err)
	}
	return Response{OK: true}
}

// run executes an operation on the attached Supervisor. It does not hold the
// line itself; each command the operation issues takes the lock in turn.
func (b *Broker) run(ctx context.Context, req Request) Response {
	if b.runner == nil {
		return errorResponse("no supervisor attached")
	}

	op, err := controller.ParseOperation(req.Operation)
	if err != nil {
		return errorResponse("%v", err)
	}

	creq := controller.Request{Operation: op, Axes: req.Axes, Refresh: true}
	if req.Thresholds != nil {
		creq.Thresholds = *req.Thresholds
	}

	res, err := b.runner.Run(ctx, creq)
	resp := Response{OK: err == nil, Result: newRunResult(res)}
	if err != nil {
		resp.Error = err.Error()
		resp.Busy = errors.Is(err, controller.ErrBusy)
	}
	return resp
}
