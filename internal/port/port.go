// Package port implements the Orb agent framework's message ports: bounded,
// single-consumer queues that carry timestamped envelopes between agents and
// the broker that drives them.
package port

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFull is returned by TrySend when the port's queue has no free slot.
var ErrFull = errors.New("port: queue full")

// ErrClosed is returned when sending to a port that has been closed.
var ErrClosed = errors.New("port: closed")

// ErrPayloadTooLarge reports a value that exceeds a maximum serialized size.
// Port has no size limit and never returns it; a shared-memory region reports
// its own overflow as shm.ErrOverflow.
var ErrPayloadTooLarge = errors.New("port: payload exceeds maximum size")

// Envelope wraps a value with the metadata the broker's fence check and
// message-chain propagation depend on.
type Envelope[T any] struct {
	Value    T
	IssuedAt time.Time
	ChainID  uint64
}

// NewEnvelope stamps a value with the current time and a fresh chain ID.
func NewEnvelope[T any](value T) Envelope[T] {
	return Envelope[T]{
		Value:    value,
		IssuedAt: time.Now(),
		ChainID:  newChainID(),
	}
}

// Derive stamps a value with the current time while propagating the chain ID
// of a causally preceding envelope, so a trace can be followed end to end
// across agent boundaries.
func Derive[T any](value T, parent ChainID) Envelope[T] {
	return Envelope[T]{
		Value:    value,
		IssuedAt: time.Now(),
		ChainID:  uint64(parent),
	}
}

// ChainID identifies a causal chain of envelopes across agent hops.
type ChainID uint64

func (e Envelope[T]) Chain() ChainID { return ChainID(e.ChainID) }

func newChainID() uint64 {
	id := uuid.New()
	// Fold the 128-bit UUID down to 64 bits; collisions are immaterial here,
	// the chain ID only needs to be unique enough for tracing and dedup.
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i]^id[i+8])
	}
	return v
}

// Port is a bounded, single-consumer FIFO queue of envelopes of type T.
// Producers (agents) call Send or TrySend; the broker is the sole consumer
// and calls TryNext in its polling loop.
type Port[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Envelope[T]
	cap    int
	closed bool
}

// New creates a Port with the given queue capacity.
func New[T any](capacity int) *Port[T] {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Port[T]{buf: make([]Envelope[T], 0, capacity), cap: capacity}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Send blocks until there is room for env, or the port is closed.
func (p *Port[T]) Send(env Envelope[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.buf) >= p.cap && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return ErrClosed
	}
	p.buf = append(p.buf, env)
	p.cond.Signal()
	return nil
}

// TrySend enqueues env without blocking, returning ErrFull if there is no
// room and ErrClosed if the port has been closed.
func (p *Port[T]) TrySend(env Envelope[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if len(p.buf) >= p.cap {
		return ErrFull
	}
	p.buf = append(p.buf, env)
	p.cond.Signal()
	return nil
}

// TryNext pops the oldest envelope without blocking. The second return value
// is false if the queue is empty.
func (p *Port[T]) TryNext() (Envelope[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		var zero Envelope[T]
		return zero, false
	}
	env := p.buf[0]
	p.buf = p.buf[1:]
	p.cond.Signal()
	return env, true
}

// Len returns the current queue depth, for monitoring.
func (p *Port[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Close marks the port closed, unblocking any pending Send callers.
func (p *Port[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cond.Broadcast()
}

// Closed reports whether the port has been closed.
func (p *Port[T]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
