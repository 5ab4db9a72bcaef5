// Package broker implements the cooperative polling loop that drives a set
// of agents, dispatching their outputs to handler methods and discarding
// stale output behind a fence.
package broker

import (
	"fmt"
	"time"

	"github.com/orbagent/core/internal/agent"
	"github.com/orbagent/core/internal/port"
)

// CellState is the tri-state lifecycle of an agent slot in a broker.
type CellState int

const (
	// Vacant: no agent has ever occupied this cell.
	Vacant CellState = iota
	// Enabled: the agent is running and its output is dispatched.
	Enabled
	// Disabled: the agent was enabled once but has since been torn down;
	// the cell retains its identity but stops participating in polling.
	Disabled
)

func (s CellState) String() string {
	switch s {
	case Vacant:
		return "vacant"
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Cell holds one agent slot in a Broker, tracking its lifecycle alongside
// the Strategy driving it. An agent's output reaches the cell through a
// port.Port: the single message interface every execution strategy (task,
// thread, process) produces envelopes onto, regardless of how the agent
// itself runs.
type Cell[T any] struct {
	state    CellState
	strategy agent.Strategy
	outputs  *port.Port[T]
}

// NewCell returns a Vacant cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{state: Vacant}
}

// Enable transitions a Vacant or Disabled cell to Enabled, recording its
// strategy and wiring its output port. It does not start the strategy; the
// caller does.
func (c *Cell[T]) Enable(strategy agent.Strategy, outputs *port.Port[T]) error {
	if c.state == Enabled {
		return fmt.Errorf("broker: cell already enabled")
	}
	c.strategy = strategy
	c.outputs = outputs
	c.state = Enabled
	return nil
}

// TryEnable is Enable but returns (false, nil) instead of an error if the
// cell is already enabled, matching the original macro-generated
// try_enable_<agent> accessor's "no-op if already running" semantics.
func (c *Cell[T]) TryEnable(strategy agent.Strategy, outputs *port.Port[T]) (bool, error) {
	if c.state == Enabled {
		return false, nil
	}
	if err := c.Enable(strategy, outputs); err != nil {
		return false, err
	}
	return true, nil
}

// Disable marks the cell Disabled. The caller is responsible for stopping
// the underlying strategy first.
func (c *Cell[T]) Disable() {
	c.state = Disabled
	c.outputs = nil
}

// State reports the cell's current lifecycle state.
func (c *Cell[T]) State() CellState { return c.state }

// IsEnabled reports whether the cell is currently Enabled.
func (c *Cell[T]) IsEnabled() bool { return c.state == Enabled }

// IsInitialized reports whether the cell has ever been enabled (Enabled or
// Disabled, as opposed to Vacant).
func (c *Cell[T]) IsInitialized() bool { return c.state != Vacant }

// Strategy returns the cell's execution strategy, or nil if never enabled.
func (c *Cell[T]) Strategy() agent.Strategy { return c.strategy }

// TryRecv performs a non-blocking poll of the cell's output port. It
// returns ok=false if the cell is not Enabled or no envelope is pending.
func (c *Cell[T]) TryRecv() (env port.Envelope[T], ok bool) {
	if c.state != Enabled || c.outputs == nil {
		return env, false
	}
	return c.outputs.TryNext()
}

// Fence is a monotonic cutoff: outputs issued before the fence are discarded
// by the broker's dispatch loop rather than handed to a Plan, so that a
// state transition (e.g. re-arming an agent) cannot be fooled by output that
// was in flight before the transition happened.
type Fence struct {
	at time.Time
}

// NewFence returns a Fence set to the current time.
func NewFence() Fence { return Fence{at: time.Now()} }

// Advance moves the fence forward to now, discarding anything issued before
// this call from future dispatch.
func (f *Fence) Advance() { f.at = time.Now() }

// Admits reports whether an envelope issued at issuedAt should be dispatched
// given the current fence value.
func (f Fence) Admits(issuedAt time.Time) bool {
	return issuedAt.After(f.at) || issuedAt.Equal(f.at)
}

// At returns the fence's cutoff time, for status reporting.
func (f Fence) At() time.Time { return f.at }
