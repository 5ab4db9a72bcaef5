package subprocess

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	mrand "math/rand"

	"golang.org/x/sys/unix"
)

func setAffinity(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}

// reseedRNG draws fresh entropy from the kernel CSPRNG and uses it to reseed
// the process-global math/rand source, so forked siblings started back to
// back don't inherit correlated pseudo-random streams.
func reseedRNG() {
	n, err := rand.Int(rand.Reader, big.NewInt(0).SetUint64(^uint64(0)))
	if err != nil {
		return
	}
	var seed int64
	b := n.Bytes()
	var padded [8]byte
	copy(padded[8-len(b):], b)
	seed = int64(binary.BigEndian.Uint64(padded[:]))
	mrand.Seed(seed)
}
