package controller

import "context"

// checkCarriage reports why the carriage cannot be driven, if it cannot
func (s *Supervisor) checkCarriage(r *report, op string) bool {
	switch {
	case !s.layout.HasX():
		r.add("X stepper not configured")
	case s.layout.XMaxPos == 0:
		r.add("X stepper is dummy (X_MAX_POS=0) - operation skipped")
	case s.layout.XMaxPos < 0:
		r.add("X_MAX_POS %d is invalid", s.layout.XMaxPos)
	case s.limits == nil:
		r.add("%s requires limit sensors", op)
	case !s.enabled.Get(s.layout.XIndex):
		r.add("X stepper is disabled")
	default:
		return true
	}
	return false
}

func (s *Supervisor) limit(r *report, away bool) bool {
	check, name := s.limits.AtHome, "Home"
	if away {
		check, name = s.limits.AtAway, "Away"
	}
	hit, err := check()
	if err != nil {
		r.add("%s sensor error: %v", name, err)
		return false
	}
	return hit
}

// xHome drives the carriage toward the home switch and zeroes it there
func (s *Supervisor) xHome(ctx context.Context, r *report) error {
	if !s.checkCarriage(r, "X Home") {
		return nil
	}
	cfg := s.Settings()
	x, maxPos := s.layout.XIndex, s.layout.XMaxPos

	r.add("Starting X Home operation...")
	if err := s.reset(x, maxPos); err != nil {
		return err
	}
	r.add("X position reset to max (%d) before moving to home", maxPos)

	for i := 0; ; i++ {
		if ctx.Err() != nil {
			r.add("Operation cancelled")
			return nil
		}
		if s.limit(r, false) {
			r.add("Home limit detected")
			break
		}
		if i >= cfg.XIterations {
			r.add("Max iterations (%d) reached - stopping", cfg.XIterations)
			break
		}

		if err := s.relMove(x, -cfg.XStep); err != nil {
			return err
		}
		s.sleep(cfg.XRest)

		if (i+1)%10 == 0 {
			r.add("Moving toward home... (iteration %d)", i+1)
		}
	}

	if s.limit(r, false) {
		if err := s.reset(x, 0); err != nil {
			return err
		}
		r.add("X Home complete - position set to 0, verified at home")
		return nil
	}

	if pos := s.positions.Get(x); pos <= 0 {
		s.disable(r, x, "X Home failed - never reached home after travelling the full range (position %d) - disabling X stepper", pos)
		return nil
	}
	r.add("X Home failed - never reached home, position: %d", s.positions.Get(x))
	return nil
}

// xAway drives the carriage from zero toward the away switch
func (s *Supervisor) xAway(ctx context.Context, r *report) error {
	if !s.checkCarriage(r, "X Away") {
		return nil
	}
	cfg := s.Settings()
	x, maxPos := s.layout.XIndex, s.layout.XMaxPos

	r.add("Starting X Away operation...")
	if err := s.reset(x, 0); err != nil {
		return err
	}
	r.add("X position set to 0")

	for i := 0; ; i++ {
		if ctx.Err() != nil {
			r.add("Operation cancelled")
			return nil
		}
		if s.positions.Get(x) >= maxPos {
			r.add("Max position (%d) reached", maxPos)
			break
		}
		if s.limit(r, true) {
			r.add("Away limit detected")
			break
		}
		if i >= cfg.XIterations {
			r.add("Max iterations (%d) reached - stopping", cfg.XIterations)
			break
		}

		if err := s.relMove(x, min(cfg.XStep, maxPos-s.positions.Get(x))); err != nil {
			return err
		}
		s.sleep(cfg.XRest)

		if (i+1)%10 == 0 {
			r.add("Moving toward away... (iteration %d, position: %d)", i+1, s.positions.Get(x))
		}
	}

	if s.limit(r, true) {
		if err := s.reset(x, maxPos); err != nil {
			return err
		}
		r.add("X Away complete - position set to max: %d, verified at away", maxPos)
		return nil
	}

	if pos := s.positions.Get(x); pos >= maxPos {
		s.disable(r, x, "X Away failed - never reached away and position is already at max (%d) - disabling X stepper", pos)
		return nil
	}
	r.add("X Away failed - never reached away, position: %d", s.positions.Get(x))
	return nil
}

// xCalibrate homes the carriage then drives it away to find its travel
func (s *Supervisor) xCalibrate(ctx context.Context, r *report) error {
	if !s.checkCarriage(r, "X Calibration") {
		return nil
	}
	x := s.layout.XIndex

	r.add("Starting X Calibration...")
	r.add("Step 1: Moving to home position...")
	if err := s.xHome(ctx, r); err != nil {
		return err
	}
	if ctx.Err() != nil {
		r.add("Calibration cancelled")
		return nil
	}
	if !s.enabled.Get(x) {
		r.add("X Calibration stopped - X stepper disabled")
		return nil
	}

	r.add("Step 2: Resetting X position to 0 at home...")
	if err := s.reset(x, 0); err != nil {
		return err
	}

	r.add("Step 3: Moving to away position...")
	if err := s.xAway(ctx, r); err != nil {
		return err
	}
	if ctx.Err() != nil {
		r.add("Calibration cancelled")
		return nil
	}

	r.add("X Calibration complete - max position: %d", s.positions.Get(x))
	return nil
}
