// Package mculink implements the request/ack/broadcast protocol spoken with
// the Orb's microcontrollers over CAN FD (primary) and UART (fallback).
package mculink

import (
	"encoding/binary"
	"fmt"
)

// MessageType distinguishes an application-level request awaiting an ack
// from an unsolicited broadcast such as telemetry.
type MessageType uint8

const (
	MessageTypeRequest   MessageType = 0x01
	MessageTypeAck       MessageType = 0x02
	MessageTypeBroadcast MessageType = 0x03
	MessageTypeError     MessageType = 0xFF
)

// wireHeaderSize is Magic(2) + Version(1) + Type(1) + AckNumber(4) + PayloadLen(2) + CRC16(2).
const wireHeaderSize = 12

const (
	wireMagic0 = 0xAC
	wireMagic1 = 0x1D
)

// Frame is one decoded mculink wire message.
type Frame struct {
	Type      MessageType
	AckNumber uint32
	Payload   []byte
}

// ErrInvalidFrame is returned by Unmarshal when the magic, CRC, or length
// fields don't check out.
type ErrInvalidFrame struct{ Reason string }

func (e ErrInvalidFrame) Error() string { return "mculink: invalid frame: " + e.Reason }

// Marshal encodes f into the wire format: magic, version, type, ack number,
// payload length, CRC16 over the first eight header bytes (magic through ack
// number) and the payload, then the payload itself.
func Marshal(f Frame) []byte {
	buf := make([]byte, wireHeaderSize+len(f.Payload))
	buf[0] = wireMagic0
	buf[1] = wireMagic1
	buf[2] = 1 // protocol version
	buf[3] = byte(f.Type)
	binary.LittleEndian.PutUint32(buf[4:8], f.AckNumber)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(f.Payload)))
	copy(buf[wireHeaderSize:], f.Payload)
	crc := crc16(buf[:8])
	crc = crc16Update(crc, buf[wireHeaderSize:])
	binary.LittleEndian.PutUint16(buf[10:12], crc)
	return buf
}

// Unmarshal decodes and validates a wire frame produced by Marshal.
func Unmarshal(buf []byte) (Frame, error) {
	if len(buf) < wireHeaderSize {
		return Frame{}, ErrInvalidFrame{Reason: "too short for header"}
	}
	if buf[0] != wireMagic0 || buf[1] != wireMagic1 {
		return Frame{}, ErrInvalidFrame{Reason: "bad magic"}
	}
	payloadLen := binary.LittleEndian.Uint16(buf[8:10])
	if len(buf) != wireHeaderSize+int(payloadLen) {
		return Frame{}, ErrInvalidFrame{Reason: fmt.Sprintf("length mismatch: header says %d, have %d", payloadLen, len(buf)-wireHeaderSize)}
	}
	wantCRC := binary.LittleEndian.Uint16(buf[10:12])
	gotCRC := crc16(buf[:8])
	gotCRC = crc16Update(gotCRC, buf[wireHeaderSize:])
	if gotCRC != wantCRC {
		return Frame{}, ErrInvalidFrame{Reason: "CRC mismatch"}
	}
	f := Frame{
		Type:      MessageType(buf[3]),
		AckNumber: binary.LittleEndian.Uint32(buf[4:8]),
		Payload:   append([]byte(nil), buf[wireHeaderSize:]...),
	}
	return f, nil
}

// crc16 computes CRC-16/CCITT-FALSE over data, matching the checksum scheme
// used elsewhere in the corpus for fixed-header binary frames.
func crc16(data []byte) uint16 {
	return crc16Update(0xFFFF, data)
}

func crc16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
