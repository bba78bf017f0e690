package controller

import "context"

// zAdjust nudges one Z stepper per string based on the latest audio analysis.
// A string that sounds too close has a stepper raised by UpStep, one that
// sounds too far has a stepper lowered by DownStep.
func (s *Supervisor) zAdjust(ctx context.Context, r *report, thresholds Thresholds) error {
	if s.audio == nil {
		r.add("z_adjust requires audio analysis")
		return nil
	}

	cfg := s.Settings()
	if err := cfg.checkUp(); err != nil {
		return err
	}
	if err := cfg.checkDown(); err != nil {
		return err
	}

	snap, ok := s.audio.Snapshot()
	if !ok {
		r.add("No audio analysis available yet - skipping")
		return nil
	}

	if s.touch != nil {
		r.add("Running bump_check before Z adjustment...")
		if err := s.bumpCheck(ctx, r, false, nil); err != nil {
			return err
		}
	}

	r.add("Starting Z adjustment...")
	for str := range s.layout.StringNum {
		if ctx.Err() != nil {
			r.add("Adjustment cancelled")
			return nil
		}

		in, out := s.layout.ZPair(str)
		inEnabled, outEnabled := s.enabled.Get(in), s.enabled.Get(out)
		if !inEnabled && !outEnabled {
			r.add("String %d: both steppers disabled, skipping", str)
			continue
		}
		if str >= len(snap.AmpSum) || str >= len(snap.VoiceCount) {
			r.add("String %d: no audio data, skipping", str)
			continue
		}

		ampSum, voices := snap.AmpSum[str], snap.VoiceCount[str]
		proximity := thresholds.Classify(str, ampSum, voices)
		if proximity == InRange {
			r.add("String %d: in range (amp=%.2f, voices=%d)", str, ampSum, voices)
			continue
		}

		axis := pickStepper(str, proximity, in, out, inEnabled, outEnabled, s.positions.Get(in), s.positions.Get(out))
		delta := cfg.UpStep
		if proximity == TooFar {
			delta = cfg.DownStep
		}

		if err := s.relMove(axis, delta); err != nil {
			return err
		}
		r.add("String %d: %s (amp=%.2f, voices=%d), moved stepper %d by %d", str, proximity, ampSum, voices, axis, delta)
		s.sleep(cfg.LapRest)
	}

	if s.touch != nil {
		r.add("Running bump_check after Z adjustment...")
		if err := s.bumpCheck(ctx, r, false, nil); err != nil {
			return err
		}
	}

	r.add("Z adjustment complete")
	return nil
}

// pickStepper chooses which of a string's steppers to move. Lower positions are
// closer to the string: too close raises the closest stepper and too far lowers
// the farthest. Ties alternate by string so neither stepper drifts alone.
func pickStepper(str int, proximity Proximity, in, out int, inEnabled, outEnabled bool, inPos, outPos int32) int {
	switch {
	case !inEnabled:
		return out
	case !outEnabled:
		return in
	}

	even := str%2 == 0
	if proximity == TooClose {
		switch {
		case inPos < outPos:
			return in
		case outPos < inPos:
			return out
		case even:
			return in
		default:
			return out
		}
	}

	switch {
	case inPos > outPos:
		return in
	case outPos > inPos:
		return out
	case even:
		return out
	default:
		return in
	}
}
