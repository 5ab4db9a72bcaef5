package mculink_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/mculink"
)

// fakeTransport is an in-memory loopback used to drive Link without real
// hardware: sent frames are handed to a respond function that decides what
// (if anything) to push back through recvCh.
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	recvCh  chan []byte
	respond func(f mculink.Frame) *mculink.Frame
}

func newFakeTransport(respond func(f mculink.Frame) *mculink.Frame) *fakeTransport {
	return &fakeTransport{recvCh: make(chan []byte, 16), respond: respond}
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, payload)
	f.mu.Unlock()

	frame, err := mculink.Unmarshal(payload)
	if err != nil {
		return err
	}
	if f.respond != nil {
		if resp := f.respond(frame); resp != nil {
			f.recvCh <- mculink.Marshal(*resp)
		}
	}
	return nil
}

func (f *fakeTransport) Recv() ([]byte, error) {
	b, ok := <-f.recvCh
	if !ok {
		return nil, mculink.ErrLinkClosed
	}
	return b, nil
}

func (f *fakeTransport) Close() error {
	close(f.recvCh)
	return nil
}

func TestSendSucceedsOnAck(t *testing.T) {
	transport := newFakeTransport(func(f mculink.Frame) *mculink.Frame {
		return &mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: f.AckNumber}
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, link.Send(ctx, []byte("hello")))
}

func TestSendReturnsProtocolErrorWithoutRetrying(t *testing.T) {
	var attempts int
	transport := newFakeTransport(func(f mculink.Frame) *mculink.Frame {
		attempts++
		return &mculink.Frame{Type: mculink.MessageTypeError, AckNumber: f.AckNumber, Payload: []byte{0x07}}
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := link.Send(ctx, []byte("x"))
	var protoErr mculink.ErrProtocol
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, byte(0x07), protoErr.Code)
	assert.Equal(t, 1, attempts, "a protocol rejection must not be retried")
}

func TestSendRetriesOnTimeoutThenFails(t *testing.T) {
	transport := newFakeTransport(func(f mculink.Frame) *mculink.Frame {
		return nil // never ack: forces every attempt to time out
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := link.Send(ctx, []byte("x"))
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), mculink.SendTimeout*time.Duration(mculink.SendRetryCount))
}

func TestSendFailsImmediatelyOnHigherAck(t *testing.T) {
	transport := newFakeTransport(func(f mculink.Frame) *mculink.Frame {
		return &mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: f.AckNumber + 1}
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	err := link.Send(ctx, []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, mculink.ErrAckMismatch)
	assert.Less(t, time.Since(start), mculink.SendTimeout, "a higher ack must fail immediately, not after a retry timeout")
}

func TestResolvePendingDropsStaleLowerAck(t *testing.T) {
	var attempts int32
	var transport *fakeTransport
	transport = newFakeTransport(func(f mculink.Frame) *mculink.Frame {
		if atomic.AddInt32(&attempts, 1) == 1 {
			// Simulate a slow ack that only arrives after the timeout has
			// already advanced the pending request to a new, higher ack
			// number; by the time it lands it is stale.
			staleAck := f.AckNumber
			go func() {
				time.Sleep(mculink.SendTimeout + 50*time.Millisecond)
				transport.recvCh <- mculink.Marshal(mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: staleAck})
			}()
			return nil
		}
		return &mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: f.AckNumber}
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, link.Send(ctx, []byte("x")), "a stale ack for a superseded attempt must not corrupt the retry's own result")

	// Give the late stale ack time to arrive and be dropped; if resolvePending
	// mishandled it the test would hang or panic rather than reach here.
	time.Sleep(mculink.SendTimeout)
}

func TestSendBroadcastsSuccessAckToSubscribers(t *testing.T) {
	transport := newFakeTransport(func(f mculink.Frame) *mculink.Frame {
		return &mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: f.AckNumber}
	})
	link := mculink.New(transport)
	defer link.Close()

	ch, unsub := link.SubscribeAcks(4)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, link.Send(ctx, []byte("hello")))

	select {
	case ack := <-ch:
		assert.Equal(t, []byte("hello"), ack.Input)
	case <-time.After(time.Second):
		t.Fatal("success ack was not broadcast to subscriber")
	}
}

func TestBroadcastFanOutToSubscribers(t *testing.T) {
	transport := newFakeTransport(nil)
	link := mculink.New(transport)
	defer link.Close()

	ch, unsub := link.Subscribe(4)
	defer unsub()

	frame := mculink.Frame{Type: mculink.MessageTypeBroadcast, AckNumber: 0, Payload: []byte("telemetry")}
	transport.recvCh <- mculink.Marshal(frame)

	select {
	case got := <-ch:
		assert.Equal(t, []byte("telemetry"), got.Payload)
	case <-time.After(time.Second):
		t.Fatal("broadcast was not delivered to subscriber")
	}
}

func TestFrameMarshalUnmarshalRoundTrip(t *testing.T) {
	f := mculink.Frame{Type: mculink.MessageTypeRequest, AckNumber: 42, Payload: []byte("payload")}
	buf := mculink.Marshal(f)
	got, err := mculink.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestUnmarshalRejectsCorruptFrame(t *testing.T) {
	f := mculink.Frame{Type: mculink.MessageTypeRequest, AckNumber: 1, Payload: []byte("abc")}
	buf := mculink.Marshal(f)
	buf[len(buf)-1] ^= 0xFF

	_, err := mculink.Unmarshal(buf)
	require.Error(t, err)
}
