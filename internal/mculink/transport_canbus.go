package mculink

import (
	"github.com/orbagent/core/internal/mculink/canbus"
)

// canbusTransport adapts a canbus.Socket to the Transport interface,
// assigning a fixed arbitration ID per direction.
type canbusTransport struct {
	sock   *canbus.Socket
	txID   uint32
	rxID   uint32
	rxOnly bool
}

// NewCANTransport wraps an open CAN FD socket, sending on txID and only
// accepting frames addressed to rxID.
func NewCANTransport(sock *canbus.Socket, txID, rxID uint32) Transport {
	return &canbusTransport{sock: sock, txID: txID, rxID: rxID}
}

func (t *canbusTransport) Send(payload []byte) error {
	return t.sock.Send(canbus.Frame{ID: t.txID, Payload: payload})
}

func (t *canbusTransport) Recv() ([]byte, error) {
	for {
		f, err := t.sock.Recv()
		if err != nil {
			return nil, err
		}
		if f.ID != t.rxID {
			continue
		}
		return f.Payload, nil
	}
}

func (t *canbusTransport) Close() error { return t.sock.Close() }
