// Command simulate_mcu is a firmware stand-in for local integration
// testing of the MCU link, without real CAN/UART hardware attached. It
// drives internal/mculink.Link through the ack scenarios the protocol's
// retry/timeout state machine must handle: a clean ack, a late/stale ack
// that must be ignored, an ack numbered higher than expected that must
// fail the send immediately, and a dropped request that must be retried
// and eventually time out. Grounded on the teacher's scripts/simulate_agent.go
// (a standalone driver exercising a client against fixed scenarios) and
// internal/mculink/link_test.go's in-memory loopback transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/orbagent/core/internal/mculink"
)

// loopbackTransport hands every sent frame to respond and pushes whatever
// it returns back into the Link's receive path, simulating firmware with
// no real byte-level transport underneath.
type loopbackTransport struct {
	recvCh  chan []byte
	respond func(f mculink.Frame) *mculink.Frame
}

func newLoopback(respond func(f mculink.Frame) *mculink.Frame) *loopbackTransport {
	return &loopbackTransport{recvCh: make(chan []byte, 16), respond: respond}
}

func (t *loopbackTransport) Send(payload []byte) error {
	frame, err := mculink.Unmarshal(payload)
	if err != nil {
		return err
	}
	if t.respond == nil {
		return nil
	}
	if resp := t.respond(frame); resp != nil {
		t.recvCh <- mculink.Marshal(*resp)
	}
	return nil
}

func (t *loopbackTransport) Recv() ([]byte, error) {
	b, ok := <-t.recvCh
	if !ok {
		return nil, mculink.ErrLinkClosed
	}
	return b, nil
}

func (t *loopbackTransport) Close() error {
	close(t.recvCh)
	return nil
}

func main() {
	scenarios := []struct {
		name string
		run  func() error
	}{
		{"ack success", scenarioSuccess},
		{"stale ack ignored", scenarioStaleAck},
		{"higher ack fails immediately", scenarioHigherAck},
		{"timeout after retries", scenarioTimeout},
	}

	failed := 0
	for _, s := range scenarios {
		fmt.Printf("scenario: %s ... ", s.name)
		if err := s.run(); err != nil {
			fmt.Printf("FAIL: %v\n", err)
			failed++
			continue
		}
		fmt.Println("ok")
	}
	if failed > 0 {
		slog.Error("simulate_mcu: scenarios failed", "count", failed)
		os.Exit(1)
	}
}

func scenarioSuccess() error {
	transport := newLoopback(func(f mculink.Frame) *mculink.Frame {
		return &mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: f.AckNumber}
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return link.Send(ctx, mculink.EncodeMirrorMove(10, 0))
}

// scenarioStaleAck simulates firmware's ack for a request the link has
// already moved on from (the first attempt's ack arrives late, after a
// timeout has already armed a new, higher-numbered pending request):
// resolvePending must log and ignore it rather than misapplying it to the
// new in-flight request.
func scenarioStaleAck() error {
	var attempts int32
	var staleAck uint32
	var transport *loopbackTransport
	transport = newLoopback(func(f mculink.Frame) *mculink.Frame {
		if atomic.AddInt32(&attempts, 1) == 1 {
			staleAck = f.AckNumber
			return nil // first attempt times out, arming a new pending ack
		}
		// The first attempt's ack arrives late, ahead of this attempt's own.
		transport.recvCh <- mculink.Marshal(mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: staleAck})
		return &mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: f.AckNumber}
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), mculink.SendTimeout*3)
	defer cancel()
	return link.Send(ctx, mculink.EncodeMirrorMove(0, 10))
}

// scenarioHigherAck simulates firmware acking a request before it was even
// sent: an ack number higher than the pending request's own must fail the
// send immediately with mculink.ErrAckMismatch rather than being ignored or
// left to time out.
func scenarioHigherAck() error {
	transport := newLoopback(func(f mculink.Frame) *mculink.Frame {
		return &mculink.Frame{Type: mculink.MessageTypeAck, AckNumber: f.AckNumber + 1}
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := link.Send(ctx, mculink.EncodeMirrorMove(0, 10))
	if !errors.Is(err, mculink.ErrAckMismatch) {
		return fmt.Errorf("expected ErrAckMismatch, got %v", err)
	}
	return nil
}

func scenarioTimeout() error {
	transport := newLoopback(func(f mculink.Frame) *mculink.Frame {
		return nil // firmware never responds
	})
	link := mculink.New(transport)
	defer link.Close()

	ctx, cancel := context.WithTimeout(context.Background(), mculink.SendTimeout*time.Duration(mculink.SendRetryCount+2))
	defer cancel()

	err := link.Send(ctx, mculink.EncodeMirrorMove(0, 0))
	if err == nil {
		return fmt.Errorf("expected a timeout error, got nil")
	}
	return nil
}
