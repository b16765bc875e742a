//go:build !linux

package host

import (
	"crypto/rand"
	"encoding/binary"
)

func entropySeed() (int64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
