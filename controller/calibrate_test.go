package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calibrationRig starts every Z stepper 20 steps above its string
func calibrationRig() *fakeRig {
	rig := newRig(0, 4)
	for axis := range 4 {
		rig.physical[axis] = 20
		rig.stringAt[axis] = 0
	}
	return rig
}

func TestZCalibrate(t *testing.T) {
	t.Run("StopsAtContact", func(t *testing.T) {
		rig := calibrationRig()
		rig.momentary = true
		s := newSupervisor(t, rig)

		res, err := s.ZCalibrate(context.Background())
		require.NoError(t, err)

		for axis := range 4 {
			assert.Equal(t, int32(0), s.Positions().Get(axis), "axis %d", axis)
			assert.True(t, s.Enabled().Get(axis))
			assert.Len(t, rig.movesFor(axis), 10)
			assert.Contains(t, res.Summary, "calibrated (touched sensor, reset to 0)")
		}
		assert.Contains(t, res.Summary, "All enabled steppers cleared - bump_check complete")
		assert.True(t, s.BumpCheckEnabled())
	})

	t.Run("RetractsSteppersStillTouching", func(t *testing.T) {
		rig := calibrationRig()
		s := newSupervisor(t, rig)

		res, err := s.ZCalibrate(context.Background())
		require.NoError(t, err)

		for axis := range 4 {
			assert.Equal(t, int32(2), s.Positions().Get(axis), "axis %d", axis)
			assert.Equal(t, int32(2), rig.physical[axis])
		}
		assert.Contains(t, res.Summary, "bump cleared - counter set to 2.")
		assert.Contains(t, res.Summary, "All enabled steppers cleared - bump_check complete")
	})

	t.Run("ClearsContactBeforeLowering", func(t *testing.T) {
		rig := calibrationRig()
		rig.physical[0] = 0
		s := newSupervisor(t, rig)

		res, err := s.ZCalibrate(context.Background())
		require.NoError(t, err)

		moves := rig.movesFor(0)
		require.NotEmpty(t, moves)
		assert.Equal(t, call{0, 2}, moves[0])
		assert.Equal(t, call{0, 2}, rig.resets[0])
		assert.Contains(t, res.Summary, "Running bump_check before Z calibration...\nStepper 0 bump cleared - counter set to 2.\nStarting Z calibration...")
		assert.True(t, s.Enabled().Get(0))
	})

	t.Run("BottomsOut", func(t *testing.T) {
		rig := newRig(0, 4)
		rig.stringAt[0] = 0
		rig.physical[0] = 20
		settings := testSettings()
		settings.DefaultZMax = 10
		s := newSupervisor(t, rig, WithSettings(settings))
		s.Positions().Set(1, 7)

		res, err := s.ZCalibrate(context.Background())
		require.NoError(t, err)

		assert.Len(t, rig.movesFor(1), 5)
		assert.Equal(t, int32(10), s.Positions().Get(1))
		assert.False(t, s.Enabled().Get(1))
		assert.Contains(t, rig.disabled, 1)
		assert.Contains(t, res.Summary, "Stepper 1 bottomed out during calibration (reached min_pos 0 without touching) - disabling")

		// stepper 0 never reaches its string from a max of 10
		assert.False(t, s.Enabled().Get(0))
		assert.Contains(t, res.Summary, "Calibration Offsets: 0: -10, 1: -3, 2: -10, 3: -10")
	})

	t.Run("SkipsDisabled", func(t *testing.T) {
		rig := calibrationRig()
		rig.momentary = true
		s := newSupervisor(t, rig)
		s.Enabled().Set(2, false)

		res, err := s.ZCalibrate(context.Background())
		require.NoError(t, err)
		assert.Empty(t, rig.movesFor(2))
		assert.Contains(t, res.Summary, "Skipping disabled stepper 2")
	})

	t.Run("SensorErrorLeavesStepper", func(t *testing.T) {
		rig := calibrationRig()
		rig.momentary = true
		rig.sensorErr[0] = errors.New("line busy")
		s := newSupervisor(t, rig)

		res, err := s.ZCalibrate(context.Background())
		require.NoError(t, err)
		assert.Empty(t, rig.movesFor(0))
		assert.Contains(t, res.Summary, "Stepper 0 calibration incomplete")
		assert.Len(t, rig.movesFor(1), 10)
	})

	t.Run("InvalidSteps", func(t *testing.T) {
		tests := []struct {
			name     string
			up, down int32
			err      error
		}{
			{"DownStepPositive", 2, 2, ErrInvalidDownStep},
			{"DownStepZero", 2, 0, ErrInvalidDownStep},
			{"UpStepZero", 0, -2, ErrInvalidUpStep},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rig := calibrationRig()
				settings := testSettings()
				settings.UpStep = tt.up
				settings.DownStep = tt.down
				s := newSupervisor(t, rig, WithSettings(settings))

				_, err := s.ZCalibrate(context.Background())
				assert.ErrorIs(t, err, tt.err)
				assert.Empty(t, rig.moves)
				assert.Empty(t, rig.resets)
			})
		}
	})

	t.Run("RestoresBumpCheckFlag", func(t *testing.T) {
		for _, enabled := range []bool{true, false} {
			rig := calibrationRig()
			rig.momentary = true
			s := newSupervisor(t, rig)
			s.SetBumpCheckEnabled(enabled)

			observed := []bool{}
			rig.onMove = func() {
				observed = append(observed, s.BumpCheckEnabled())
			}

			_, err := s.ZCalibrate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, enabled, s.BumpCheckEnabled())
			assert.NotContains(t, observed, true)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		rig := calibrationRig()
		s := newSupervisor(t, rig)

		ctx, cancel := context.WithCancel(context.Background())
		rig.onMove = cancel

		res, err := s.ZCalibrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, rig.moveCount())
		assert.Contains(t, res.Summary, "Calibration cancelled for stepper 0")
		assert.True(t, s.BumpCheckEnabled())
	})

	t.Run("NoSensors", func(t *testing.T) {
		rig := calibrationRig()
		s, err := New(testLayout(), rig, WithSleep(noSleep))
		require.NoError(t, err)

		res, err := s.ZCalibrate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Z-Calibration requires sensors", res.Summary)
		assert.Empty(t, rig.moves)
	})
}
