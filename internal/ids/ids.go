// Package ids generates the instance's 64-bit IDs.
//
// An ID is composed of the number of seconds since the Eludris epoch shifted
// left 16 bits, an 8-bit worker id and an 8-bit wrapping sequence:
//
//	timestamp << 16 | worker_id << 8 | sequence
package ids

import (
	"sync"
	"time"
)

// Epoch is the instance epoch, pinned at 2022-04-15T05:20:00Z.
var Epoch = time.Unix(1_650_000_000, 0).UTC()

// Generator produces IDs for a single worker. It is safe for concurrent use.
type Generator struct {
	mu       sync.Mutex
	workerID uint8
	sequence uint8
	now      func() time.Time
}

// New creates a Generator for the given worker id.
func New(workerID uint8) *Generator {
	return &Generator{workerID: workerID, now: time.Now}
}

// Generate returns a new ID, incrementing the sequence. The sequence wraps
// to 0 after 255, so up to 256 IDs per worker are distinct within a second.
func (g *Generator) Generate() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sequence == 0xFF {
		g.sequence = 0
	} else {
		g.sequence++
	}
	seconds := uint64(g.now().Sub(Epoch) / time.Second)
	return seconds<<16 | uint64(g.workerID)<<8 | uint64(g.sequence)
}

// Timestamp recovers an ID's creation time.
func Timestamp(id uint64) time.Time {
	return Epoch.Add(time.Duration(id>>16) * time.Second)
}
