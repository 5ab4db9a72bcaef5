// Package uart implements the length-delimited UART framing used as a
// fallback transport to the main MCU when the CAN FD bus is unavailable:
// two magic bytes, a little-endian uint16 payload length, then the payload.
package uart

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MagicByte0 and MagicByte1 prefix every frame, matching the microcontroller
// firmware's fixed framing header.
const (
	MagicByte0 = 0x8E
	MagicByte1 = 0xAD
)

// MaxPayload bounds the uint16 length field.
const MaxPayload = 1<<16 - 1

// Port is a framed reader/writer over a serial device.
type Port struct {
	f      *os.File
	reader *bufio.Reader
}

// Open opens path (e.g. "/dev/ttyTHS0") and configures it as a raw
// 8N1 serial line at the given baud rate using termios, matching how the
// microcontroller's bootloader and application firmware both expect the
// line to be configured.
func Open(path string, baud uint32) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s: %w", path, err)
	}
	if err := configureRaw(int(f.Fd()), baud); err != nil {
		f.Close()
		return nil, fmt.Errorf("uart: configure %s: %w", path, err)
	}
	return &Port{f: f, reader: bufio.NewReaderSize(f, 4096)}, nil
}

func configureRaw(fd int, baud uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := setBaud(t, baud); err != nil {
		return err
	}
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}

// Write sends one length-delimited frame.
func (p *Port) Write(payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("uart: payload %d exceeds max %d", len(payload), MaxPayload)
	}
	buf := make([]byte, 4+len(payload))
	buf[0] = MagicByte0
	buf[1] = MagicByte1
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[4:], payload)
	_, err := p.f.Write(buf)
	return err
}

// ReadFrame blocks until one complete, magic-delimited frame has been
// received, resynchronizing byte-by-byte if the stream is misaligned.
func (p *Port) ReadFrame() ([]byte, error) {
	for {
		b0, err := p.reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("uart: read magic[0]: %w", err)
		}
		if b0 != MagicByte0 {
			continue
		}
		b1, err := p.reader.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("uart: read magic[1]: %w", err)
		}
		if b1 != MagicByte1 {
			continue
		}
		break
	}
	var lenBuf [2]byte
	if _, err := io.ReadFull(p.reader, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("uart: read length: %w", err)
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(p.reader, payload); err != nil {
		return nil, fmt.Errorf("uart: read payload: %w", err)
	}
	return payload, nil
}

// Close closes the underlying serial device.
func (p *Port) Close() error { return p.f.Close() }
