package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/calvinmclean/stringdriver"
)

type call struct {
	axis  int
	value int32
}

// fakeRig models the physical steppers and sensors. A Z sensor touches when its
// stepper is at or below the string, and the carriage limits trip at either end.
type fakeRig struct {
	mtx sync.Mutex

	physical map[int]int32
	// stringAt is the physical position where a Z stepper meets its string
	stringAt  map[int]int32
	momentary bool
	reported  map[int]bool
	sensorErr map[int]error

	zFirst int
	x      int
	homeAt int32
	awayAt int32

	moves    []call
	resets   []call
	disabled []int

	onMove func()
	gate   chan struct{}
}

func newRig(zFirst, x int) *fakeRig {
	return &fakeRig{
		physical:  map[int]int32{},
		stringAt:  map[int]int32{},
		reported:  map[int]bool{},
		sensorErr: map[int]error{},
		zFirst:    zFirst,
		x:         x,
		homeAt:    -1 << 30,
		awayAt:    1 << 30,
	}
}

func (f *fakeRig) RelMove(axis int, delta int32) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mtx.Lock()
	f.physical[axis] += delta
	f.moves = append(f.moves, call{axis, delta})
	onMove := f.onMove
	f.mtx.Unlock()

	if onMove != nil {
		onMove()
	}
	return nil
}

func (f *fakeRig) AbsMove(axis int, position int32) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.physical[axis] = position
	return nil
}

func (f *fakeRig) Reset(axis int, position int32) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.resets = append(f.resets, call{axis, position})
	return nil
}

func (f *fakeRig) Disable(axis int) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.disabled = append(f.disabled, axis)
	return nil
}

func (f *fakeRig) Touched(index int) (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	axis := f.zFirst + index
	if err := f.sensorErr[axis]; err != nil {
		return false, err
	}
	at, ok := f.stringAt[axis]
	if !ok {
		return false, nil
	}
	touching := f.physical[axis] <= at
	if touching && f.momentary {
		if f.reported[axis] {
			return false, nil
		}
		f.reported[axis] = true
	}
	return touching, nil
}

func (f *fakeRig) AtHome() (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.physical[f.x] <= f.homeAt, nil
}

func (f *fakeRig) AtAway() (bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.physical[f.x] >= f.awayAt, nil
}

func (f *fakeRig) movesFor(axis int) []call {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	var out []call
	for _, m := range f.moves {
		if m.axis == axis {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeRig) moveCount() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.moves)
}

type positionRig struct {
	*fakeRig
	reply []int32
	err   error
}

func (p positionRig) Positions(n int) ([]int32, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.reply[:n], nil
}

type fakeAudio struct {
	snap stringdriver.AudioSnapshot
	ok   bool
}

func (a fakeAudio) Snapshot() (stringdriver.AudioSnapshot, bool) {
	return a.snap, a.ok
}

type fakeRecorder struct {
	mtx    sync.Mutex
	stages []string
	events []string
}

func (r *fakeRecorder) AddStage(_ context.Context, name string, _ time.Time) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.stages = append(r.stages, name)
	return nil
}

func (r *fakeRecorder) AddEvent(_ context.Context, note string, _ time.Time) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.events = append(r.events, note)
	return errors.New("recorder offline")
}

// testLayout has two strings on steppers 0-3 and the carriage on 4
func testLayout() Layout {
	return Layout{
		NumSteppers: 5,
		XIndex:      4,
		XMaxPos:     100,
		ZFirstIndex: 0,
		StringNum:   2,
	}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.ZRest = 0
	s.LapRest = 0
	s.XRest = 0
	return s
}

func noSleep(time.Duration) {}
