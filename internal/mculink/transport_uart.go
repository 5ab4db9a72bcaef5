package mculink

import (
	"github.com/orbagent/core/internal/mculink/uart"
)

// uartTransport adapts a uart.Port to the Transport interface.
type uartTransport struct {
	port *uart.Port
}

// NewUARTTransport wraps an open serial port as a fallback transport for
// when the CAN FD bus is unavailable.
func NewUARTTransport(port *uart.Port) Transport {
	return &uartTransport{port: port}
}

func (t *uartTransport) Send(payload []byte) error  { return t.port.Write(payload) }
func (t *uartTransport) Recv() ([]byte, error)       { return t.port.ReadFrame() }
func (t *uartTransport) Close() error                { return t.port.Close() }
