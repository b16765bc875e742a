package host

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// UUID is a 128-bit random identifier split into two 64-bit words.
// Hi holds bytes 0-7 and Lo bytes 8-15 in big-endian order.
type UUID struct {
	Hi uint64
	Lo uint64
}

// FromUUID splits a library UUID into its two words.
func FromUUID(id uuid.UUID) UUID {
	return UUID{
		Hi: binary.BigEndian.Uint64(id[:8]),
		Lo: binary.BigEndian.Uint64(id[8:]),
	}
}

// UUID joins the two words back into a library UUID.
func (u UUID) UUID() uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[:8], u.Hi)
	binary.BigEndian.PutUint64(id[8:], u.Lo)
	return id
}

// Bytes returns the 16-byte big-endian form.
func (u UUID) Bytes() [16]byte { return [16]byte(u.UUID()) }

// String formats u as xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
func (u UUID) String() string { return u.UUID().String() }

// Version returns the RFC 4122 version nibble.
func (u UUID) Version() int { return int(u.UUID().Version()) }

// UUIDGenerator produces version-4 UUIDs from a private PRNG.
//
// Each instance owns one, seeded independently from OS entropy; there is no
// coordination between generators.
type UUIDGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewUUIDGenerator creates a generator with a fixed seed (for tests).
func NewUUIDGenerator(seed int64) *UUIDGenerator {
	return &UUIDGenerator{rng: rand.New(rand.NewSource(seed))}
}

// NewSeededUUIDGenerator seeds a generator from the OS entropy source,
// falling back to the clock if entropy is unavailable.
func NewSeededUUIDGenerator() *UUIDGenerator {
	seed, err := entropySeed()
	if err != nil {
		logrus.Warnf("uuid: entropy unavailable, seeding from clock: %v", err)
		seed = time.Now().UnixNano()
	}
	return NewUUIDGenerator(seed)
}

// Next returns a fresh UUID.
func (g *UUIDGenerator) Next() UUID {
	g.mu.Lock()
	id, err := uuid.NewRandomFromReader(g.rng)
	g.mu.Unlock()
	if err != nil {
		// rand.Rand.Read never fails.
		panic("UUIDGenerator.Next: " + err.Error())
	}
	return FromUUID(id)
}
