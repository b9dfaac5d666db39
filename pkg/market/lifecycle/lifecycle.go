package lifecycle

import "sync/atomic"

// Lifecycle is shared between the readiness probe and shutdown so
// /readyz can report draining before the listener closes.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
