// Package shm implements the zero-copy shared-memory transport used between
// the broker process and agents running under the process execution
// strategy. Each region is a fixed-size mmap backed by a memfd, so its file
// descriptor survives fork/exec and can be inherited by a child process
// without naming a path in the filesystem.
package shm

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Fixed region sizes. A region never grows: a write that would exceed its
// capacity fails synchronously rather than performing a partial write, so a
// reader never observes a torn record.
const (
	InitRegionSize   = 64 * 1024
	InputRegionSize  = 256 * 1024
	OutputRegionSize = 256 * 1024
)

// ErrOverflow is returned by Write when the payload does not fit the region.
var ErrOverflow = errors.New("shm: payload exceeds region capacity")

// Region is a single mmap-backed shared-memory segment with an eventfd used
// to wake a waiting reader.
type Region struct {
	mu     sync.Mutex
	fd     int
	evfd   int
	data   []byte
	size   int
	closed bool
}

// New creates an anonymous, fork/exec-inheritable shared-memory region of the
// given size using memfd_create, and an eventfd the writer signals after
// each write.
func New(name string, size int) (*Region, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate %q: %w", name, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}
	evfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, fmt.Errorf("shm: eventfd for %q: %w", name, err)
	}
	return &Region{fd: fd, evfd: evfd, data: data, size: size}, nil
}

// OpenFD attaches to a region whose memfd and eventfd were inherited across
// fork/exec, identified by their file descriptor numbers (set up by the
// parent before spawning the child; see internal/subprocess).
func OpenFD(fd, evfd, size int) (*Region, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap inherited fd %d: %w", fd, err)
	}
	return &Region{fd: fd, evfd: evfd, data: data, size: size}, nil
}

// FD returns the memfd file descriptor, for passing to a child process via
// ExtraFiles.
func (r *Region) FD() int { return r.fd }

// EventFD returns the eventfd file descriptor used to wake a waiting reader.
func (r *Region) EventFD() int { return r.evfd }

// Write copies payload into the region starting at offset 0, length-prefixed
// with a little-endian uint32, and signals the eventfd. It fails with
// ErrOverflow rather than writing a truncated record if payload plus its
// 4-byte length prefix does not fit.
func (r *Region) Write(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("shm: region closed")
	}
	if len(payload)+4 > r.size {
		return ErrOverflow
	}
	putUint32LE(r.data[0:4], uint32(len(payload)))
	copy(r.data[4:], payload)
	return r.signal()
}

// Read returns a copy of the most recently written payload.
func (r *Region) Read() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("shm: region closed")
	}
	n := getUint32LE(r.data[0:4])
	if int(n)+4 > r.size {
		return nil, fmt.Errorf("shm: corrupt length prefix %d", n)
	}
	out := make([]byte, n)
	copy(out, r.data[4:4+n])
	return out, nil
}

// Wait blocks until the eventfd has been signaled at least once since the
// last Wait, consuming the signal count.
func (r *Region) Wait() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(r.evfd, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, fmt.Errorf("shm: short eventfd read %d", n)
	}
	return getUint64LE(buf[:]), nil
}

func (r *Region) signal() error {
	var buf [8]byte
	putUint64LE(buf[:], 1)
	_, err := unix.Write(r.evfd, buf[:])
	return err
}

// Close unmaps the region and closes both file descriptors.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err1 := unix.Munmap(r.data)
	err2 := unix.Close(r.evfd)
	err3 := unix.Close(r.fd)
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return err3
}

func putUint32LE(b []byte, v uint32) {
	_ = b[3]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	_ = b[3]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint64LE(b []byte, v uint64) {
	_ = b[7]
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getUint64LE(b []byte) uint64 {
	_ = b[7]
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
