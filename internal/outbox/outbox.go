// Package outbox tracks outgoing datagrams pending acknowledgement, one
// queue per target peer, and retransmits them on an exponential-capped
// cadence until a Seen arrives.
package outbox

import (
	"sync"
	"time"

	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
	"github.com/nilsray/peerlink/pkg/retry"
	"github.com/nilsray/peerlink/pkg/syncmap"
	pqueue "github.com/nilsray/peerlink/pkg/utils/heap"
)

// Entry is one unacknowledged outgoing datagram.
type Entry struct {
	PeerID    peers.ID
	MessageID wire.MessageID
	Msg       *wire.Message
	Attempt   int
	NextDue   time.Time
	removed   bool
}

type peerOutbox struct {
	mu      sync.Mutex
	byID    map[wire.MessageID][]*Entry
	pending *pqueue.PriorityQueue[*Entry]
}

func newPeerOutbox() *peerOutbox {
	return &peerOutbox{
		byID: make(map[wire.MessageID][]*Entry),
		pending: pqueue.NewPriorityQueue[*Entry](func(a, b *Entry) bool {
			return a.NextDue.Before(b.NextDue)
		}),
	}
}

// Outbox is the engine-owned store of pending acknowledgements for every
// peer, plus a per-public-message "who has acked" set.
type Outbox struct {
	byPeer *syncmap.Map[peers.ID, *peerOutbox]

	mu       sync.Mutex
	seenBy   map[wire.MessageID]map[peers.ID]bool
	isPublic map[wire.MessageID]bool
}

// New returns an empty Outbox.
func New() *Outbox {
	return &Outbox{
		byPeer:   syncmap.New[peers.ID, *peerOutbox](),
		seenBy:   make(map[wire.MessageID]map[peers.ID]bool),
		isPublic: make(map[wire.MessageID]bool),
	}
}

func (o *Outbox) peerbox(peerID peers.ID) *peerOutbox {
	if pb, ok := o.byPeer.Get(peerID); ok {
		return pb
	}
	pb := newPeerOutbox()
	o.byPeer.Put(peerID, pb)
	return pb
}

// Add registers msg as pending delivery to peerID. Callers invoke this
// once per datagram per addressed peer (so a public broadcast to N known
// peers produces N entries, one per peer's retransmit schedule).
func (o *Outbox) Add(peerID peers.ID, msg *wire.Message) *Entry {
	cfg := config.Load()
	entry := &Entry{
		PeerID:    peerID,
		MessageID: msg.ID,
		Msg:       msg,
		NextDue:   time.Now().Add(cfg.TimeoutCheck),
	}

	pb := o.peerbox(peerID)
	pb.mu.Lock()
	pb.byID[msg.ID] = append(pb.byID[msg.ID], entry)
	pb.pending.Enqueue(entry)
	pb.mu.Unlock()

	if msg.Public {
		o.mu.Lock()
		o.isPublic[msg.ID] = true
		if o.seenBy[msg.ID] == nil {
			o.seenBy[msg.ID] = make(map[peers.ID]bool)
		}
		o.mu.Unlock()
	}

	return entry
}

// Undelivered pops every entry for peerID whose retransmit deadline has
// passed, rescheduling each with an exponential-capped backoff as a side
// effect.
func (o *Outbox) Undelivered(peerID peers.ID) []*Entry {
	pb, ok := o.byPeer.Get(peerID)
	if !ok {
		return nil
	}

	cfg := config.Load()
	now := time.Now()

	pb.mu.Lock()
	defer pb.mu.Unlock()

	var due []*Entry
	for {
		head, ok := pb.pending.Peek()
		if !ok || head.NextDue.After(now) {
			break
		}
		entry, _ := pb.pending.Dequeue()
		if entry.removed {
			continue
		}

		entry.Attempt++
		entry.NextDue = now.Add(retry.Backoff(entry.Attempt, cfg.TimeoutCheck, cfg.RetransmitMaxDelay, cfg.RetransmitMultiplier))
		pb.pending.Enqueue(entry)
		due = append(due, entry)
	}

	return due
}

// Seen removes every pending entry for messageID addressed to peerID, and
// (for public messages) records peerID in the message's seenBy set, which
// only ever grows — the front-end decides display semantics for "seen by
// all".
func (o *Outbox) Seen(peerID peers.ID, messageID wire.MessageID) {
	if pb, ok := o.byPeer.Get(peerID); ok {
		pb.mu.Lock()
		for _, e := range pb.byID[messageID] {
			e.removed = true
		}
		delete(pb.byID, messageID)
		pb.mu.Unlock()
	}

	o.mu.Lock()
	if o.isPublic[messageID] {
		if o.seenBy[messageID] == nil {
			o.seenBy[messageID] = make(map[peers.ID]bool)
		}
		o.seenBy[messageID][peerID] = true
	}
	o.mu.Unlock()
}

// SeenBy returns the set of peer ids that have acknowledged a public
// message so far.
func (o *Outbox) SeenBy(messageID wire.MessageID) []peers.ID {
	o.mu.Lock()
	defer o.mu.Unlock()

	set := o.seenBy[messageID]
	out := make([]peers.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Get returns the pending datagrams for peerID and messageID, if any.
func (o *Outbox) Get(peerID peers.ID, messageID wire.MessageID) []*wire.Message {
	pb, ok := o.byPeer.Get(peerID)
	if !ok {
		return nil
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()

	entries := pb.byID[messageID]
	out := make([]*wire.Message, 0, len(entries))
	for _, e := range entries {
		if !e.removed {
			out = append(out, e.Msg)
		}
	}
	return out
}

// Remove drops every pending entry for messageID addressed to peerID
// without recording a seenBy acknowledgement (used for Abort).
func (o *Outbox) Remove(peerID peers.ID, messageID wire.MessageID) {
	if pb, ok := o.byPeer.Get(peerID); ok {
		pb.mu.Lock()
		for _, e := range pb.byID[messageID] {
			e.removed = true
		}
		delete(pb.byID, messageID)
		pb.mu.Unlock()
	}
}
