package controller

import "context"

// BumpState is one Z stepper's sensor reading
type BumpState struct {
	Axis     int
	Touching bool
	Err      error
}

// BumpStatus reads the touch sensor of every Z stepper
func (s *Supervisor) BumpStatus() []BumpState {
	if s.touch == nil {
		return nil
	}

	var states []BumpState
	for _, axis := range s.layout.ZIndices() {
		touching, err := s.touch.Touched(s.layout.SensorIndex(axis))
		states = append(states, BumpState{Axis: axis, Touching: touching, Err: err})
	}
	return states
}

// bumpCheck retracts every enabled Z stepper whose sensor reports contact. A
// stepper that reaches its max position or runs out of attempts while still in
// contact is disabled. force ignores the enable flag.
func (s *Supervisor) bumpCheck(ctx context.Context, r *report, force bool, axes []int) error {
	if s.touch == nil {
		r.add("bump_check requires sensors")
		return nil
	}
	if !force && !s.bumpEnabled.Load() {
		r.add("bump_check disabled - skipping")
		return nil
	}

	cfg := s.Settings()
	if err := cfg.checkUp(); err != nil {
		return err
	}

	scope := s.layout.ZIndices()
	if len(axes) > 0 {
		scope = nil
		for _, axis := range axes {
			if !s.layout.IsZ(axis) {
				r.add("Invalid stepper index: %d", axis)
				continue
			}
			scope = append(scope, axis)
		}
	}

	for _, axis := range scope {
		if ctx.Err() != nil {
			r.add("bump_check cancelled")
			return nil
		}
		if !s.enabled.Get(axis) {
			continue
		}
		if !s.touched(r, axis) {
			continue
		}

		if err := s.clearBump(ctx, r, axis, cfg); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	return nil
}

func (s *Supervisor) clearBump(ctx context.Context, r *report, axis int, cfg Settings) error {
	maxPos := cfg.MaxPos(axis)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			r.add("bump_check cancelled")
			return nil
		}

		pos := s.positions.Get(axis)
		if pos >= maxPos {
			s.disable(r, axis, "CRITICAL: DISABLING stepper %d. Reason: Bumping at max_pos %d.", axis, maxPos)
			return nil
		}
		if attempt >= cfg.BumpIterations {
			s.disable(r, axis, "CRITICAL: Stepper %d exceeded %d move attempts while bumping - disabling.", axis, cfg.BumpIterations)
			return nil
		}

		if err := s.relMove(axis, min(cfg.UpStep, maxPos-pos)); err != nil {
			return err
		}

		if !s.touched(r, axis) {
			if err := s.reset(axis, cfg.UpStep); err != nil {
				return err
			}
			r.add("Stepper %d bump cleared - counter set to %d.", axis, cfg.UpStep)
			return nil
		}

		s.sleep(cfg.ZRest)
	}
}
