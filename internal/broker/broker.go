package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbagent/core/internal/agent"
)

// Flow is the control signal a handler returns to tell the Broker whether to
// keep polling the remaining agents this iteration or stop the whole run.
type Flow int

const (
	// Continue keeps the broker's poll loop running.
	Continue Flow = iota
	// Break stops the broker's Run call, returning to the caller.
	Break
)

// Entry is one agent's slot in a Broker's declaration-ordered poll list. The
// original macro generated one of these per #[agent(...)] field in fixed
// field-declaration order; here that order is simply the order of the slice
// passed to New, fixed explicitly instead of through codegen.
type Entry struct {
	Name string

	// Poll is called once per broker iteration. It must be non-blocking: it
	// drains at most the output currently pending, checking each envelope
	// against the fence before dispatching it to a handler, and returns
	// Break if a handler asked to stop. Agent exits are observed through
	// ExitedCh and OnExit, not through Poll.
	Poll func(fence Fence) (Flow, error)

	// ExitedCh, if non-nil, is called once per iteration to fetch the
	// agent's current exit channel. It is a getter rather than a fixed
	// channel value (typically the strategy's own Exited method) so that a
	// respawned strategy's fresh channel is observed after a restart.
	ExitedCh func() <-chan agent.ExitEvent
	// OnExit is invoked with the ExitEvent when ExitedCh fires; it applies
	// the agent's ExitPolicy and decides whether the broker continues or stops.
	OnExit func(agent.ExitEvent) (Flow, error)
}

// Broker drives a fixed, ordered set of agent Entries: each iteration it
// polls every entry once in declaration order, dispatching ready output to
// handlers and checking for agent exits, then calls Extra once. It runs
// until a handler returns Break, Extra returns Break, an agent exits with
// ExitFatal, or the context is canceled.
type Broker struct {
	entries   []Entry
	fence     Fence
	pollEvery time.Duration

	// Extra is called once per iteration after all entries have been
	// polled, mirroring the original poll_extra hook used for broker-level
	// concerns that aren't tied to any single agent (timers, button logic).
	Extra func(fence Fence) (Flow, error)
}

// New creates a Broker over the given entries, polled in the given order.
func New(entries []Entry) *Broker {
	return &Broker{entries: entries, fence: NewFence(), pollEvery: time.Millisecond}
}

// Fence returns the broker's current fence value.
func (b *Broker) Fence() Fence { return b.fence }

// AdvanceFence moves the fence forward to now, causing subsequently-checked
// in-flight output from before this call to be discarded rather than
// dispatched. Used when re-arming an agent (enable/disable) to avoid acting
// on output that was already in flight before the transition.
func (b *Broker) AdvanceFence() { b.fence.Advance() }

// ErrAgentExitFatal is wrapped into the error Run returns when an Entry's
// OnExit hook reports an error, as agent.HandleExit does when an agent
// configured with agent.ExitFatal terminates (and when a restart fails).
var ErrAgentExitFatal = errors.New("broker: agent exited with fatal policy")

// Run drives the poll loop until Break, a fatal agent exit, a handler
// error, or ctx cancellation.
func (b *Broker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for _, e := range b.entries {
			if e.ExitedCh != nil {
				select {
				case ev, ok := <-e.ExitedCh():
					if ok && e.OnExit != nil {
						flow, err := e.OnExit(ev)
						if err != nil {
							return fmt.Errorf("broker: agent %s exit handler: %w: %w", e.Name, ErrAgentExitFatal, err)
						}
						if flow == Break {
							return nil
						}
					}
				default:
				}
			}

			flow, err := e.Poll(b.fence)
			if err != nil {
				return fmt.Errorf("broker: agent %s: %w", e.Name, err)
			}
			if flow == Break {
				return nil
			}
		}

		if b.Extra != nil {
			flow, err := b.Extra(b.fence)
			if err != nil {
				return fmt.Errorf("broker: poll_extra: %w", err)
			}
			if flow == Break {
				return nil
			}
		}
	}
}

// PollCell drains every envelope currently buffered in cell's output port
// whose Envelope.IssuedAt is admitted by fence, calling handle with each
// envelope's value. It is the generic helper Entry.Poll implementations are
// built from, replacing what the original macro generated per-agent-field.
func PollCell[T any](cell *Cell[T], fence Fence, handle func(T) (Flow, error)) (Flow, error) {
	for {
		env, ok := cell.TryRecv()
		if !ok {
			return Continue, nil
		}
		if !fence.Admits(env.IssuedAt) {
			slog.Debug("broker: discarding output before fence", "issued_at", env.IssuedAt, "chain", env.Chain())
			continue
		}
		flow, err := handle(env.Value)
		if err != nil {
			return Continue, err
		}
		if flow == Break {
			return Break, nil
		}
	}
}
