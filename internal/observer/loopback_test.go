package observer_test

import (
	"errors"
	"testing"

	"github.com/orbagent/core/internal/mculink"
)

// loopbackTransport is a minimal mculink.Transport test double: Send is a
// no-op sink, Recv yields frames pushed by deliverBroadcast.
type loopbackTransport struct {
	incoming chan []byte
	closed   chan struct{}
}

func newLoopbackTransport() *loopbackTransport {
	return &loopbackTransport{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (t *loopbackTransport) Send(payload []byte) error { return nil }

func (t *loopbackTransport) Recv() ([]byte, error) {
	select {
	case b := <-t.incoming:
		return b, nil
	case <-t.closed:
		return nil, errors.New("loopback: closed")
	}
}

func (t *loopbackTransport) Close() error {
	close(t.closed)
	return nil
}

func (t *loopbackTransport) deliverBroadcast(tb testing.TB, f mculink.Frame) {
	tb.Helper()
	t.incoming <- mculink.Marshal(f)
}
