package controller

import (
	"context"
	"errors"
	"time"
)

// StartBumpCheck starts a bump check on a new goroutine unless checks are
// suppressed. The position model is refreshed first because other processes
// may have moved steppers through the broker since the last check. It returns
// ErrBusy while another operation holds the Supervisor.
func (s *Supervisor) StartBumpCheck(ctx context.Context, done func(Result, error)) (bool, error) {
	if !s.BumpCheckEnabled() {
		return false, nil
	}

	err := s.Go(ctx, Request{Operation: OperationBumpCheck, Refresh: true}, done)
	if err != nil {
		return false, err
	}
	return true, nil
}

// PeriodicBumpCheck calls StartBumpCheck every interval until ctx is done.
// Ticks that find the Supervisor busy are skipped.
func (s *Supervisor) PeriodicBumpCheck(ctx context.Context, interval time.Duration, done func(Result, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, err := s.StartBumpCheck(ctx, done)
		if err != nil && !errors.Is(err, ErrBusy) {
			s.logger.Warn("unable to start bump check", "error", err)
		}
	}
}
