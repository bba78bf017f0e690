package controller

import (
	"maps"
	"slices"
	"sync"
)

// Positions is the host's model of where each stepper is
type Positions struct {
	mtx    sync.RWMutex
	values []int32
}

func NewPositions(n int) *Positions {
	return &Positions{values: make([]int32, n)}
}

func (p *Positions) Get(axis int) int32 {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	if axis < 0 || axis >= len(p.values) {
		return 0
	}
	return p.values[axis]
}

func (p *Positions) Set(axis int, v int32) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if axis >= 0 && axis < len(p.values) {
		p.values[axis] = v
	}
}

func (p *Positions) Add(axis int, delta int32) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if axis >= 0 && axis < len(p.values) {
		p.values[axis] += delta
	}
}

// Replace overwrites the model, e.g. with positions read back from firmware
func (p *Positions) Replace(values []int32) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	copy(p.values, values)
}

func (p *Positions) Snapshot() []int32 {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return slices.Clone(p.values)
}

// EnabledSet tracks which steppers may be moved. Unknown steppers are disabled.
type EnabledSet struct {
	mtx     sync.RWMutex
	enabled map[int]bool
}

func NewEnabledSet(axes []int) *EnabledSet {
	e := &EnabledSet{enabled: make(map[int]bool, len(axes))}
	for _, axis := range axes {
		e.enabled[axis] = true
	}
	return e
}

func (e *EnabledSet) Get(axis int) bool {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return e.enabled[axis]
}

func (e *EnabledSet) Set(axis int, enabled bool) {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.enabled[axis] = enabled
}

func (e *EnabledSet) Snapshot() map[int]bool {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	return maps.Clone(e.enabled)
}
