// Package exitwatch detects agent subprocess termination via an eBPF
// sched_process_exit tracepoint and a ring buffer, avoiding the latency and
// per-child goroutine cost of polling wait4 for processes the supervisor
// does not directly parent (e.g. a grandchild reparented after a crash).
package exitwatch

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// Event reports that a tracked PID has exited, matching the layout written
// by the tracepoint program into the ring buffer map.
type Event struct {
	PID      uint32
	ExitCode int32
}

// Watcher attaches a sched_process_exit tracepoint and streams Events for
// PIDs registered with Track.
type Watcher struct {
	coll    *ebpf.Collection
	tp      link.Link
	reader  *ringbuf.Reader
	events  chan Event
	tracked map[uint32]struct{}
}

// New loads the tracepoint program and ring buffer map from a pre-compiled
// eBPF object (built out-of-band by the bpf2go toolchain) and attaches it.
func New(objPath string) (*Watcher, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("exitwatch: remove memlock rlimit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("exitwatch: load collection spec %s: %w", objPath, err)
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("exitwatch: new collection: %w", err)
	}

	prog, ok := coll.Programs["trace_process_exit"]
	if !ok {
		coll.Close()
		return nil, fmt.Errorf("exitwatch: program trace_process_exit not found in %s", objPath)
	}
	tp, err := link.Tracepoint("sched", "sched_process_exit", prog, nil)
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("exitwatch: attach tracepoint: %w", err)
	}

	m, ok := coll.Maps["exit_events"]
	if !ok {
		tp.Close()
		coll.Close()
		return nil, fmt.Errorf("exitwatch: ring buffer map exit_events not found")
	}
	reader, err := ringbuf.NewReader(m)
	if err != nil {
		tp.Close()
		coll.Close()
		return nil, fmt.Errorf("exitwatch: new ring buffer reader: %w", err)
	}

	w := &Watcher{
		coll:    coll,
		tp:      tp,
		reader:  reader,
		events:  make(chan Event, 64),
		tracked: make(map[uint32]struct{}),
	}
	go w.loop()
	return w, nil
}

// Track registers pid so its exit is delivered on Events.
func (w *Watcher) Track(pid uint32) { w.tracked[pid] = struct{}{} }

// Untrack stops delivering events for pid, e.g. once its exit has already
// been handled through another path (a clean wait4 from the direct parent).
func (w *Watcher) Untrack(pid uint32) { delete(w.tracked, pid) }

// Events returns the channel of exit events for tracked PIDs.
func (w *Watcher) Events() <-chan Event { return w.events }

func (w *Watcher) loop() {
	for {
		record, err := w.reader.Read()
		if err != nil {
			if err == ringbuf.ErrClosed {
				close(w.events)
				return
			}
			slog.Warn("exitwatch: ring buffer read error", "error", err)
			continue
		}
		if len(record.RawSample) < 8 {
			continue
		}
		ev := Event{
			PID:      binary.LittleEndian.Uint32(record.RawSample[0:4]),
			ExitCode: int32(binary.LittleEndian.Uint32(record.RawSample[4:8])),
		}
		if _, ok := w.tracked[ev.PID]; !ok {
			continue
		}
		w.events <- ev
	}
}

// Close detaches the tracepoint and releases the eBPF collection.
func (w *Watcher) Close() error {
	w.reader.Close()
	w.tp.Close()
	w.coll.Close()
	return nil
}
