package mculink

import "encoding/binary"

// CommandID identifies an application-level command carried in a request
// frame's payload, distinct from Frame.Type which only distinguishes
// request/ack/broadcast/error at the transport level.
type CommandID byte

const (
	// CommandMirrorMove requests a relative mirror nudge, in motor
	// microsteps along each axis.
	CommandMirrorMove CommandID = 0x10
)

// EncodeMirrorMove builds the payload for a CommandMirrorMove request:
// command byte, then dx and dy as little-endian int32s.
func EncodeMirrorMove(dx, dy int32) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(CommandMirrorMove)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(dx))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(dy))
	return buf
}
