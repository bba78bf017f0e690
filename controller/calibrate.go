package controller

import (
	"context"
	"fmt"
	"strings"
)

// zCalibrate lowers each enabled Z stepper from its max position until its
// sensor reports contact and zeroes the counter there. A stepper that reaches
// ZMin without contact is disabled and its counter returned to max. Steppers
// in contact beforehand are cleared first so none is reset to max while
// touching, and steppers still in contact afterwards are cleared again.
func (s *Supervisor) zCalibrate(ctx context.Context, r *report) error {
	if s.touch == nil {
		r.add("Z-Calibration requires sensors")
		return nil
	}

	cfg := s.Settings()
	if err := cfg.checkDown(); err != nil {
		return err
	}
	if err := cfg.checkUp(); err != nil {
		return err
	}

	prev := s.bumpEnabled.Swap(false)
	defer s.bumpEnabled.Store(prev)

	zIndices := s.layout.ZIndices()
	start := make(map[int]int32, len(zIndices))
	for _, axis := range zIndices {
		start[axis] = s.positions.Get(axis)
	}

	r.add("Running bump_check before Z calibration...")
	if err := s.bumpCheck(ctx, r, true, nil); err != nil {
		return err
	}

	r.add("Starting Z calibration...")
	for _, axis := range zIndices {
		if ctx.Err() != nil {
			r.add("Calibration cancelled")
			return nil
		}
		if !s.enabled.Get(axis) {
			r.add("Skipping disabled stepper %d", axis)
			continue
		}

		finished, err := s.calibrateAxis(ctx, r, axis, cfg)
		if err != nil {
			return err
		}
		if !finished {
			r.add("Calibration cancelled for stepper %d", axis)
			return nil
		}
	}

	var offsets []string
	for _, axis := range zIndices {
		if offset := start[axis] - s.positions.Get(axis); offset != 0 {
			offsets = append(offsets, fmt.Sprintf("%d: %d", axis, offset))
		}
	}
	if len(offsets) == 0 {
		offsets = []string{"none"}
	}
	r.add("Calibration Offsets: %s", strings.Join(offsets, ", "))
	r.add("Z calibration complete - all enabled steppers moved until touching or disabled")

	r.add("Running bump_check to clear any steppers still touching...")
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			r.add("Calibration cancelled")
			return nil
		}
		if !s.anyTouching(r, zIndices) {
			r.add("All enabled steppers cleared - bump_check complete")
			return nil
		}
		if i >= cfg.ClearIterations {
			r.add("Bump check reached max iterations - stopping")
			return nil
		}
		if err := s.bumpCheck(ctx, r, true, nil); err != nil {
			return err
		}
	}
}

// calibrateAxis returns false if ctx was cancelled before the stepper finished
func (s *Supervisor) calibrateAxis(ctx context.Context, r *report, axis int, cfg Settings) (bool, error) {
	maxPos := cfg.MaxPos(axis)
	if err := s.reset(axis, maxPos); err != nil {
		return false, err
	}

	local := maxPos
	for {
		if ctx.Err() != nil {
			return false, nil
		}

		touching, err := s.touch.Touched(s.layout.SensorIndex(axis))
		if err != nil {
			r.add("Sensor error for stepper %d: %v", axis, err)
			r.add("Stepper %d calibration incomplete", axis)
			return true, nil
		}
		if touching {
			if err := s.reset(axis, 0); err != nil {
				return false, err
			}
			r.add("Stepper %d calibrated (touched sensor, reset to 0)", axis)
			return true, nil
		}

		if local <= cfg.ZMin {
			s.disable(r, axis, "Stepper %d bottomed out during calibration (reached min_pos %d without touching) - disabling", axis, cfg.ZMin)
			if err := s.reset(axis, maxPos); err != nil {
				return false, err
			}
			return true, nil
		}

		if err := s.relMove(axis, cfg.DownStep); err != nil {
			return false, err
		}
		local += cfg.DownStep

		s.sleep(cfg.ZRest)
	}
}

func (s *Supervisor) anyTouching(r *report, axes []int) bool {
	for _, axis := range axes {
		if s.enabled.Get(axis) && s.touched(r, axis) {
			return true
		}
	}
	return false
}
