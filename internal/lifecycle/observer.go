// Package lifecycle tracks whether the host application is foregrounded.
package lifecycle

import (
	"sync"
	"sync/atomic"

	"chat-sync/internal/models"
)

// Observer holds the latest lifecycle state reported by the host. It keeps no history.
type Observer struct {
	state atomic.Value

	mu        sync.Mutex
	listeners []func(models.LifecycleState)
}

// NewObserver starts in the given state.
func NewObserver(initial models.LifecycleState) *Observer {
	o := &Observer{}
	o.state.Store(initial)
	return o
}

// Current returns the state at the time of the call.
func (o *Observer) Current() models.LifecycleState {
	return o.state.Load().(models.LifecycleState)
}

// Set records a host transition and notifies listeners when the state changed.
func (o *Observer) Set(next models.LifecycleState) {
	previous := o.state.Swap(next).(models.LifecycleState)
	if previous == next {
		return
	}
	o.mu.Lock()
	listeners := make([]func(models.LifecycleState), len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}
}

// OnChange registers fn to run after each transition.
func (o *Observer) OnChange(fn func(models.LifecycleState)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}
