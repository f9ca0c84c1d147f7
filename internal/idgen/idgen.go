// Package idgen generates wire.MessageID values that do not collide
// within one Generator unless more than 256 ids are drawn in the same
// second, resolving what happens when two messages would otherwise be
// assigned the same unix-second id.
package idgen

import (
	"sync"
	"time"

	"github.com/nilsray/peerlink/internal/wire"
)

// Generator produces monotonically distinct ids by combining the current
// unix second with a low-order counter that advances whenever the second
// repeats.
type Generator struct {
	mu      sync.Mutex
	lastSec uint32
	counter uint8
}

// New returns a ready-to-use Generator.
func New() *Generator {
	return &Generator{}
}

// Next returns the next id: the low 24 bits of the unix second, shifted
// left by 8, OR'd with an 8-bit counter that increments whenever two
// calls land in the same second and wraps (accepting rare same-process
// collisions only after 256 ids in one second).
func (g *Generator) Next() wire.MessageID {
	g.mu.Lock()
	defer g.mu.Unlock()

	sec := uint32(time.Now().Unix())
	if sec == g.lastSec {
		g.counter++
	} else {
		g.lastSec = sec
		g.counter = 0
	}

	return wire.MessageID(sec<<8 | uint32(g.counter))
}
