// Package inbox reassembles incoming multi-shard messages, tracks which
// shard indices are still missing, and drives selective retransmission
// requests for gaps.
package inbox

import (
	"net/netip"
	"sync"
	"time"

	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/internal/filelink"
	"github.com/nilsray/peerlink/internal/wire"
	"github.com/nilsray/peerlink/pkg/bitfield"
)

// ShardRange is an inclusive range of shard indices.
type ShardRange struct {
	Lo, Hi uint64
}

// Len reports the number of indices the range covers.
func (r ShardRange) Len() uint64 { return r.Hi - r.Lo + 1 }

// Entry is one in-progress (or just-completed) multi-shard reassembly,
// keyed by its logical message id.
type Entry struct {
	mu sync.Mutex

	ID            wire.MessageID
	Sender        netip.Addr
	Public        bool
	Command       wire.Command
	TotalChecksum uint16
	Link          *filelink.Link
	Terminal      uint64
	Attempt       int
	LastActivity  time.Time

	shards   [][]byte
	present  bitfield.Bitfield
	combined bool
}

// NewEntry allocates reassembly state for a multi-shard message announced
// by an Init datagram.
func NewEntry(sender netip.Addr, init *wire.Message, link *filelink.Link) *Entry {
	count := init.Part.Count
	terminal := uint64(0)
	if count > 0 {
		terminal = count - 1
	}

	return &Entry{
		ID:            init.ID,
		Sender:        sender,
		Public:        init.Public,
		Command:       init.Command,
		TotalChecksum: init.Part.TotalChecksum,
		Link:          link,
		Terminal:      terminal,
		shards:        make([][]byte, count),
		present:       bitfield.New(int(count)),
		LastActivity:  time.Now(),
	}
}

// Insert stores one shard's payload if its CRC is valid and the slot is
// still empty. It reports whether position==Terminal, signalling the
// caller should attempt Combine.
func (e *Entry) Insert(position uint64, payload []byte, checksum uint16) (isTerminal bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if position < uint64(len(e.shards)) && !e.present.Has(int(position)) {
		if checksum == wire.Checksum(payload) {
			e.shards[position] = payload
			e.present.Set(int(position))
			if e.Link != nil {
				e.Link.MarkShard()
			}
			e.LastActivity = time.Now()
		}
	}

	return position == e.Terminal
}

// MissedShards computes contiguous ranges of missing indices, then
// coalesces adjacent ranges whenever the gap between them (next.Lo minus
// prev.Hi) is strictly smaller than either neighboring range's length.
func (e *Entry) MissedShards() []ShardRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.missedShardsLocked()
}

func (e *Entry) missedShardsLocked() []ShardRange {
	var raw []ShardRange
	var runStart uint64
	inRun := false

	for i := 0; i < len(e.shards); i++ {
		missing := !e.present.Has(i)
		if missing && !inRun {
			runStart = uint64(i)
			inRun = true
		} else if !missing && inRun {
			raw = append(raw, ShardRange{Lo: runStart, Hi: uint64(i - 1)})
			inRun = false
		}
	}
	if inRun {
		raw = append(raw, ShardRange{Lo: runStart, Hi: uint64(len(e.shards) - 1)})
	}

	// emptyLen is deliberately m.Lo-last.Hi, not minus one, compared with
	// a strict "<": a gap exactly as long as a neighboring range does NOT
	// coalesce into it.
	var coalesced []ShardRange
	for _, m := range raw {
		if len(coalesced) == 0 {
			coalesced = append(coalesced, m)
			continue
		}
		last := &coalesced[len(coalesced)-1]
		emptyLen := uint64(0)
		if m.Lo > last.Hi {
			emptyLen = m.Lo - last.Hi
		}
		if emptyLen < m.Len() || emptyLen < last.Len() {
			last.Hi = m.Hi
		} else {
			coalesced = append(coalesced, m)
		}
	}

	return coalesced
}

// Result is the outcome of a reassembly attempt.
type Result int

const (
	CombineOK Result = iota
	CombineMissing
	CombineAlreadyReady
	CombineAborted
)

// Combine concatenates shards in index order if complete. Callers (the
// chat engine) are responsible for acting on the result:
// writing text/file output, sending Seen, or asking for missed ranges.
func (e *Entry) Combine() (data []byte, result Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Link != nil && e.Link.IsReady() {
		return nil, CombineAlreadyReady
	}
	if e.Link != nil && e.Link.IsAborted() {
		return nil, CombineAborted
	}

	missing := e.missedShardsLocked()
	if len(missing) > 0 {
		return nil, CombineMissing
	}

	total := 0
	for _, s := range e.shards {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range e.shards {
		out = append(out, s...)
	}

	e.combined = true
	return out, CombineOK
}

// AdvanceTerminal updates Terminal/Attempt after an ask-for-missed round,
// if the tail of missing shards still reaches the previous terminal,
// bump Attempt; otherwise narrow Terminal to the new tail and reset
// Attempt.
func (e *Entry) AdvanceTerminal(missed []ShardRange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	terminal := e.Terminal
	if len(missed) > 0 {
		terminal = missed[len(missed)-1].Hi
	}

	if terminal == e.Terminal {
		e.Attempt++
	} else {
		e.Terminal = terminal
		e.Attempt = 0
	}
}

// Stale reports whether this entry belongs to sender, is not yet ready
// (neither combined nor a ready file link), and has been quiet longer than
// TIMEOUT_SECOND — the wake-up condition driving periodic recovery from a
// lost terminal shard.
func (e *Entry) Stale(sender netip.Addr, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.Sender != sender || e.combined {
		return false
	}
	if e.Link != nil && e.Link.IsReady() {
		return false
	}
	return now.Sub(e.LastActivity) > config.Load().TimeoutSecond
}

// Inbox is the engine-owned store of in-progress multi-shard reassemblies,
// keyed by message id.
type Inbox struct {
	mu      sync.Mutex
	entries map[wire.MessageID]*Entry
}

// New returns an empty Inbox.
func New() *Inbox {
	return &Inbox{entries: make(map[wire.MessageID]*Entry)}
}

// Insert registers a new reassembly entry.
func (ib *Inbox) Insert(id wire.MessageID, e *Entry) {
	ib.mu.Lock()
	ib.entries[id] = e
	ib.mu.Unlock()
}

// Get returns the entry for id, if any.
func (ib *Inbox) Get(id wire.MessageID) (*Entry, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	e, ok := ib.entries[id]
	return e, ok
}

// Remove drops the entry for id.
func (ib *Inbox) Remove(id wire.MessageID) {
	ib.mu.Lock()
	delete(ib.entries, id)
	ib.mu.Unlock()
}

// StaleForSender returns every non-ready entry from sender that has gone
// quiet past TIMEOUT_SECOND, for the engine's periodic wake-up pass.
func (ib *Inbox) StaleForSender(sender netip.Addr, now time.Time) []*Entry {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	var out []*Entry
	for _, e := range ib.entries {
		if e.Stale(sender, now) {
			out = append(out, e)
		}
	}
	return out
}
