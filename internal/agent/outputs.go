package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/orbagent/core/internal/port"
	"github.com/orbagent/core/internal/shm"
)

// AttachOutput starts a goroutine that waits on region's eventfd, decodes
// each payload region.Read() returns via decode, and sends the result as a
// fresh port.Envelope onto the returned Port. This is the single message
// interface every agent's output reaches the broker through, regardless of
// which Strategy (task, thread, or process) produced it.
//
// The pump runs until ctx is cancelled, independent of any one subprocess's
// lifetime: the shared-memory region is owned by the broker process and
// outlives a crashed child, so one pump survives that child being
// respawned underneath it by HandleExit.
//
// A decode error is logged and dropped rather than ending the pump,
// matching the MCU link's handling of a malformed wire frame: one bad
// record from a misbehaving agent should not take down its whole output
// stream.
func AttachOutput[T any](ctx context.Context, region *shm.Region, decode func([]byte) (T, error)) *port.Port[T] {
	p := port.New[T](32)
	go func() {
		defer p.Close()
		for {
			if ctx.Err() != nil {
				return
			}
			if _, err := region.Wait(); err != nil {
				if ctx.Err() == nil {
					slog.Error("agent: shared memory wait failed", "error", err)
				}
				return
			}
			raw, err := region.Read()
			if err != nil {
				slog.Error("agent: shared memory read failed", "error", err)
				continue
			}
			value, err := decode(raw)
			if err != nil {
				slog.Warn("agent: dropping malformed agent output", "error", err)
				continue
			}
			if err := p.TrySend(port.NewEnvelope(value)); err != nil {
				slog.Warn("agent: output port rejected value", "error", err)
			}
		}
	}()
	return p
}

// DecodeJSON is a convenience decode function for AttachOutput: agents whose
// output is small and simple enough to serialize as JSON, rather than a
// fixed binary layout, can pass this directly.
func DecodeJSON[T any](raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
