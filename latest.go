package stringdriver

import "sync/atomic"

// Latest holds the most recently published value. Writers replace the value
// wholesale and readers never block.
type Latest[T any] struct {
	v atomic.Pointer[T]
}

func (l *Latest[T]) Store(v T) {
	l.v.Store(&v)
}

// Load returns the latest value and false if nothing was stored yet
func (l *Latest[T]) Load() (T, bool) {
	p := l.v.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
