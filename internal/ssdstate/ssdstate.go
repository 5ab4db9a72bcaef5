// Package ssdstate tracks the on-device SSD's mount health as a one-way
// latch: once Failed or NotMounted is observed, the state never reverts to
// Active for the lifetime of the process, since a storage device that has
// already faulted cannot be trusted to have self-healed.
package ssdstate

import "sync/atomic"

// State is the SSD's observed mount/health state.
type State uint8

const (
	Unknown State = iota
	Active
	NotMounted
	Failed
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case NotMounted:
		return "not_mounted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// priority ranks states so the latch only ever moves to a state of equal or
// higher priority than its current one: Unknown < Active < NotMounted <
// Failed. Active can still be set from Unknown, but nothing can move the
// latch back down once it has left Unknown.
func (s State) priority() int { return int(s) }

// Latch holds the process-wide SSD state.
type Latch struct {
	v atomic.Uint32
}

// Set moves the latch to newState if newState outranks the current value.
// It reports whether the transition took effect.
func (l *Latch) Set(newState State) bool {
	for {
		cur := State(l.v.Load())
		if newState.priority() <= cur.priority() {
			return false
		}
		if l.v.CompareAndSwap(uint32(cur), uint32(newState)) {
			return true
		}
	}
}

// Get returns the current state.
func (l *Latch) Get() State { return State(l.v.Load()) }
