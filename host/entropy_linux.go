//go:build linux

package host

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// entropySeed reads 8 bytes from getrandom(2).
func entropySeed() (int64, error) {
	var buf [8]byte
	n, err := unix.Getrandom(buf[:], 0)
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("getrandom: short read (%d bytes)", n)
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
