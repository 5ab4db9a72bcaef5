// Package canbus opens a raw CAN FD socket (AF_CAN/SOCK_RAW) to exchange
// frames with the Orb's microcontrollers.
package canbus

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MaxFDPayload is the largest payload a single CAN FD frame can carry.
const MaxFDPayload = 64

// Frame is one CAN FD frame: an 11 or 29-bit arbitration ID and up to 64
// bytes of payload.
type Frame struct {
	ID      uint32
	Payload []byte
}

// Socket is a raw CAN FD socket bound to one interface (e.g. "can0").
type Socket struct {
	fd   int
	name string
}

// Open binds a CAN FD socket to the named interface and enables the FD
// frame format (CAN_RAW_FD_FRAMES), without which the kernel truncates
// frames to classic 8-byte CAN.
func Open(ifaceName string) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}

	one := 1
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, one); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: enable FD frames: %w", err)
	}

	ifi, err := unix.IfNameToIndex(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: resolve interface %s: %w", ifaceName, err)
	}

	addr := &unix.SockaddrCAN{Ifindex: int(ifi)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", ifaceName, err)
	}

	return &Socket{fd: fd, name: ifaceName}, nil
}

// canfdFrame mirrors struct canfd_frame from <linux/can.h>: a 4-byte ID, a
// length byte, flags, two reserved bytes, then up to 64 bytes of data.
type canfdFrame struct {
	id    uint32
	len   uint8
	flags uint8
	res0  uint8
	res1  uint8
	data  [MaxFDPayload]byte
}

// Send writes one CAN FD frame to the bus.
func (s *Socket) Send(f Frame) error {
	if len(f.Payload) > MaxFDPayload {
		return fmt.Errorf("canbus: payload %d exceeds max %d", len(f.Payload), MaxFDPayload)
	}
	var raw canfdFrame
	raw.id = f.ID
	raw.len = uint8(len(f.Payload))
	copy(raw.data[:], f.Payload)

	buf := (*[unsafe.Sizeof(canfdFrame{})]byte)(unsafe.Pointer(&raw))[:]
	_, err := unix.Write(s.fd, buf)
	if err != nil {
		return fmt.Errorf("canbus: write to %s: %w", s.name, err)
	}
	return nil
}

// Recv blocks until one CAN FD frame arrives.
func (s *Socket) Recv() (Frame, error) {
	var raw canfdFrame
	buf := (*[unsafe.Sizeof(canfdFrame{})]byte)(unsafe.Pointer(&raw))[:]
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return Frame{}, fmt.Errorf("canbus: read from %s: %w", s.name, err)
	}
	if n < 8 {
		return Frame{}, fmt.Errorf("canbus: short read %d bytes", n)
	}
	payload := make([]byte, raw.len)
	copy(payload, raw.data[:raw.len])
	return Frame{ID: raw.id, Payload: payload}, nil
}

// Close releases the underlying socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
