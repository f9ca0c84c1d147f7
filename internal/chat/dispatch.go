package chat

import (
	"net/netip"
	"time"
	"unicode/utf8"

	"github.com/nilsray/peerlink/internal/bridge"
	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/internal/filelink"
	"github.com/nilsray/peerlink/internal/inbox"
	"github.com/nilsray/peerlink/internal/network"
	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
)

// handleIncoming dispatches one decoded datagram by wire command.
func (e *Engine) handleIncoming(from netip.Addr, msg *wire.Message) {
	switch msg.Command {
	case wire.Enter:
		peer, isNew := e.peers.Observe(from, peers.Public, string(msg.Data))
		if isNew {
			e.bridge.Back <- bridge.NewPeerJoined(from, peer.DisplayName())
		}
		e.send(wire.NewGreeting(e.ids.Next(), e.name), network.RecipientOne(from))

	case wire.Greeting:
		peer, isNew := e.peers.Observe(from, peers.Public, string(msg.Data))
		if isNew {
			e.bridge.Back <- bridge.NewPeerJoined(from, peer.DisplayName())
		}

	case wire.Exit:
		e.peers.MarkExit(from)
		e.bridge.Back <- bridge.NewPeerLeft(from)

	case wire.Text, wire.File:
		e.handleContentCommand(from, msg)

	case wire.AskToRepeat:
		e.handleAskToRepeat(from, msg)

	case wire.Repeat:
		e.handleContentCommand(from, msg)

	case wire.Seen:
		if peer, ok := e.peers.Get(from); ok {
			e.outbox.Seen(peer.ID, msg.ID)
		}

	case wire.Abort:
		e.handleRemoteAbort(from, msg.ID)

	case wire.Error:
		// Deliberately ignored: this side never raises Error datagrams.
	}
}

// handleContentCommand handles Text/File/Repeat datagrams, which may be
// Single, Init, or Shard parts.
func (e *Engine) handleContentCommand(from netip.Addr, msg *wire.Message) {
	switch msg.Part.Kind {
	case wire.PartSingle:
		if !wire.VerifyPayload(msg) {
			e.Stats.ShardsDropped.Add(1)
			return
		}
		e.surfaceSingle(from, msg)
		e.send(wire.NewSeen(msg.ID, msg.Public), network.RecipientOne(from))

	case wire.PartInit:
		var link *filelink.Link
		if msg.Command == wire.File {
			name := string(msg.Data)
			if name == "" {
				name = time.Now().Format("20060102-150405")
			}
			link = filelink.New(msg.ID, name, config.Load().DownloadsDir, msg.Part.Count)
		}
		entry := inbox.NewEntry(from, msg, link)
		e.inbox.Insert(msg.ID, entry)

	case wire.PartShard:
		entry, ok := e.inbox.Get(msg.ID)
		if !ok {
			return
		}
		if entry.Link != nil && entry.Link.IsReady() {
			e.send(wire.NewSeen(entry.ID, entry.Public), network.RecipientOne(from))
			return
		}
		if entry.Link != nil && entry.Link.IsAborted() {
			e.send(wire.NewAbort(entry.ID), network.RecipientOne(from))
			return
		}
		if wire.VerifyPayload(msg) {
			isTerminal := entry.Insert(msg.Part.Index, msg.Data, msg.Checksum)
			if isTerminal {
				e.combine(entry)
			}
		} else {
			e.Stats.ShardsDropped.Add(1)
		}
	}
}

// surfaceSingle emits a single-datagram Text/File/Repeat message to the
// front-end.
func (e *Engine) surfaceSingle(from netip.Addr, msg *wire.Message) {
	peer, _ := e.peers.Get(from)
	peerID := peers.Public
	if peer != nil {
		peerID = peer.ID
	}

	e.bridge.Back <- bridge.NewMessage(bridge.MessageData{
		Timestamp: time.Now(),
		Incoming:  true,
		Public:    msg.Public,
		PeerID:    peerID,
		ID:        msg.ID,
		Content:   bridge.Content{Kind: bridge.ContentText, Text: string(msg.Data)},
	})
}

// combine attempts to complete a multi-shard entry: writing the result or
// asking for the remaining missed ranges.
func (e *Engine) combine(entry *inbox.Entry) {
	if entry.Link != nil && entry.Link.IsReady() {
		e.send(wire.NewSeen(entry.ID, entry.Public), network.RecipientOne(entry.Sender))
		return
	}
	if entry.Link != nil && entry.Link.IsAborted() {
		e.send(wire.NewAbort(entry.ID), network.RecipientOne(entry.Sender))
		e.inbox.Remove(entry.ID)
		return
	}

	data, result := entry.Combine()
	switch result {
	case inbox.CombineMissing:
		e.askForMissed(entry)
		return
	case inbox.CombineAlreadyReady, inbox.CombineAborted:
		return
	}

	switch entry.Command {
	case wire.Text, wire.Repeat:
		e.surfaceCombinedText(entry, data)
		e.send(wire.NewSeen(entry.ID, entry.Public), network.RecipientOne(entry.Sender))

	case wire.File:
		if err := filestoreWriter(entry.Link.Path, data); err != nil {
			e.log.Warn("write file failed", "path", entry.Link.Path, "err", err)
			return
		}
		entry.Link.SetReady()
		e.send(wire.NewSeen(entry.ID, entry.Public), network.RecipientOne(entry.Sender))
		e.bridge.Back <- bridge.NewMessage(bridge.MessageData{
			Timestamp: time.Now(),
			Incoming:  true,
			Public:    entry.Public,
			PeerID:    e.peerIDFor(entry.Sender),
			ID:        entry.ID,
			Content:   bridge.Content{Kind: bridge.ContentFileLink, Link: ptr(entry.Link.Snapshot())},
		})
	}
}

func (e *Engine) surfaceCombinedText(entry *inbox.Entry, data []byte) {
	if !utf8.Valid(data) {
		e.log.Warn("dropped text message with invalid utf-8", "id", entry.ID)
		return
	}
	e.bridge.Back <- bridge.NewMessage(bridge.MessageData{
		Timestamp: time.Now(),
		Incoming:  true,
		Public:    entry.Public,
		PeerID:    e.peerIDFor(entry.Sender),
		ID:        entry.ID,
		Content:   bridge.Content{Kind: bridge.ContentText, Text: string(data)},
	})
}

func (e *Engine) peerIDFor(ip netip.Addr) peers.ID {
	if peer, ok := e.peers.Get(ip); ok {
		return peer.ID
	}
	return peers.Public
}

// askForMissed sends one AskToRepeat per coalesced missing range, unless
// the sender is known Offline.
func (e *Engine) askForMissed(entry *inbox.Entry) {
	missed := entry.MissedShards()
	entry.AdvanceTerminal(missed)

	if e.peers.OnlineStatus(entry.Sender) == peers.PresenceOffline {
		return
	}

	for _, r := range missed {
		if entry.Link != nil && (entry.Link.IsAborted() || entry.Link.IsReady()) {
			break
		}
		e.send(wire.NewAskToRepeat(entry.ID, r.Lo, r.Hi), network.RecipientOne(entry.Sender))
	}
}

// handleAskToRepeat resends outstanding outbox datagrams for the
// requested shard range.
func (e *Engine) handleAskToRepeat(from netip.Addr, msg *wire.Message) {
	peer, ok := e.peers.Get(from)
	if !ok {
		return
	}

	if msg.ID == 0 {
		e.send(wire.NewGreeting(e.ids.Next(), e.name), network.RecipientOne(from))
		return
	}

	for _, outMsg := range e.outbox.Get(peer.ID, msg.ID) {
		if outMsg.Part.Kind != wire.PartShard {
			continue
		}
		if outMsg.Part.Index >= msg.Part.Lo && outMsg.Part.Index <= msg.Part.Hi {
			e.send(outMsg, network.RecipientOne(from))
			e.Stats.Retransmits.Add(1)
		}
	}
}

// handleRemoteAbort cancels the outbound transfer's outbox entries when
// the receiving peer reports an abort.
func (e *Engine) handleRemoteAbort(from netip.Addr, id wire.MessageID) {
	if peer, ok := e.peers.Get(from); ok {
		e.outbox.Remove(peer.ID, id)
	}
}

// retransmitDue re-sends every peer's overdue outbox entries, driven by
// the pulse.
func (e *Engine) retransmitDue() {
	for _, ip := range e.peers.IPs() {
		peer, ok := e.peers.Get(ip)
		if !ok {
			continue
		}
		for _, entry := range e.outbox.Undelivered(peer.ID) {
			e.send(entry.Msg, network.RecipientOne(ip))
			e.Stats.Retransmits.Add(1)
		}
	}
}

func ptr[T any](v T) *T { return &v }
