package controller

import "fmt"

func (s *Supervisor) relMove(axis int, delta int32) error {
	if err := s.stepper.RelMove(axis, delta); err != nil {
		return fmt.Errorf("error moving stepper %d by %d: %w", axis, delta, err)
	}
	s.positions.Add(axis, delta)
	s.logger.Debug("moved stepper", "axis", axis, "delta", delta, "position", s.positions.Get(axis))
	return nil
}

func (s *Supervisor) reset(axis int, position int32) error {
	if err := s.stepper.Reset(axis, position); err != nil {
		return fmt.Errorf("error resetting stepper %d to %d: %w", axis, position, err)
	}
	s.positions.Set(axis, position)
	return nil
}

// disable removes axis from every later operation. The summary line is added
// even if the Stepper fails to disable it.
func (s *Supervisor) disable(r *report, axis int, format string, args ...any) {
	s.enabled.Set(axis, false)
	if err := s.stepper.Disable(axis); err != nil {
		r.add("Error disabling stepper %d: %v", axis, err)
	}
	r.add(format, args...)
	s.logger.Warn("stepper disabled", "axis", axis, "reason", fmt.Sprintf(format, args...))
}

// touched reads the sensor under a Z stepper. Read errors are reported and
// count as no contact.
func (s *Supervisor) touched(r *report, axis int) bool {
	touching, err := s.touch.Touched(s.layout.SensorIndex(axis))
	if err != nil {
		r.add("Sensor error for stepper %d: %v", axis, err)
		return false
	}
	return touching
}
