// Package filelink tracks one file transfer's progress, bandwidth and
// cancellation state, shared lock-free between the engine (writer) and a
// front-end renderer (reader).
package filelink

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/nilsray/peerlink/internal/wire"
)

// Link is the shared handle for one inbound or outbound file transfer.
// All mutable fields are atomics, grounded directly on PeerStats's
// all-atomic-counters convention, so rendering never needs a lock.
type Link struct {
	ID        wire.MessageID
	Name      string
	Path      string
	Size      uint64
	Count     uint64
	timeStart time.Time

	completed atomic.Uint64
	bandwidth atomic.Uint64 // bytes/sec, set once on SetReady
	ready     atomic.Bool
	aborted   atomic.Bool
}

// New creates a Link for an inbound transfer of count shards, rooted at
// dir.
func New(id wire.MessageID, name, dir string, count uint64) *Link {
	return &Link{
		ID:        id,
		Name:      name,
		Path:      filepath.Join(dir, name),
		Size:      count * wire.MaxPayload,
		Count:     count,
		timeStart: time.Now(),
	}
}

// NewOutbound creates a Link describing a file already on disk being
// sent, given its size in bytes.
func NewOutbound(id wire.MessageID, name, path string, size uint64) *Link {
	count := (size + wire.MaxPayload - 1) / wire.MaxPayload
	return &Link{
		ID:        id,
		Name:      name,
		Path:      path,
		Size:      size,
		Count:     count,
		timeStart: time.Now(),
	}
}

// MarkShard records one more completed shard.
func (l *Link) MarkShard() {
	l.completed.Add(1)
}

// Completed returns the number of shards accounted for so far.
func (l *Link) Completed() uint64 { return l.completed.Load() }

// Progress returns completed/count, capped at 0.99 while in flight; 1.0 is
// implied by IsReady instead of ever being returned here.
func (l *Link) Progress() float64 {
	if l.Count == 0 {
		return 0
	}
	p := float64(l.completed.Load()) / float64(l.Count)
	if p > 0.99 {
		p = 0.99
	}
	return p
}

// Abort marks the transfer cancelled.
func (l *Link) Abort() { l.aborted.Store(true) }

// IsAborted reports whether Abort has been called.
func (l *Link) IsAborted() bool { return l.aborted.Load() }

// IsReady reports whether SetReady has been called.
func (l *Link) IsReady() bool { return l.ready.Load() }

// SetReady marks the transfer complete and computes bandwidth once, as
// size/elapsed, exactly as the original FileLink::set_ready does.
func (l *Link) SetReady() {
	l.ready.Store(true)

	elapsed := time.Since(l.timeStart).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-9
	}
	l.bandwidth.Store(uint64(float64(l.Size) / elapsed))
}

// Bandwidth returns the bytes/sec computed by SetReady, or 0 if not yet
// ready.
func (l *Link) Bandwidth() uint64 { return l.bandwidth.Load() }

// Snapshot is a plain-value view of a Link suitable for binding to a
// front-end, the same atomic-struct-to-snapshot-struct pattern used
// anywhere progress needs a lock-free consistent read.
type Snapshot struct {
	ID        wire.MessageID
	Name      string
	Path      string
	Size      uint64
	Count     uint64
	Completed uint64
	Progress  float64
	Bandwidth uint64
	Ready     bool
	Aborted   bool
}

// Snapshot captures a consistent-enough point-in-time view of l.
func (l *Link) Snapshot() Snapshot {
	return Snapshot{
		ID:        l.ID,
		Name:      l.Name,
		Path:      l.Path,
		Size:      l.Size,
		Count:     l.Count,
		Completed: l.Completed(),
		Progress:  l.Progress(),
		Bandwidth: l.Bandwidth(),
		Ready:     l.IsReady(),
		Aborted:   l.IsAborted(),
	}
}
