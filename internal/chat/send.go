package chat

import (
	"path/filepath"

	"github.com/nilsray/peerlink/internal/bridge"
	"github.com/nilsray/peerlink/internal/filelink"
	"github.com/nilsray/peerlink/internal/filestore"
	"github.com/nilsray/peerlink/internal/network"
	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
)

// sendText fragments a text message and hands each resulting datagram to
// dispatchOutgoing.
func (e *Engine) sendText(data bridge.SendMessageData) {
	id := e.ids.Next()
	msgs := wire.Fragment(id, wire.Text, data.Public, []byte(data.Text))
	e.dispatchOutgoing(msgs, data.To)
}

// sendFile reads path whole, builds an outbound filelink.Link for
// progress tracking, and fragments it as an Init datagram carrying the
// file's base name followed by one Shard per wire.MaxPayload-sized chunk.
// File transfers always use the Init/Shard path, even when the file fits
// in a single shard, so every transfer has a Link to report progress and
// accept Abort.
func (e *Engine) sendFile(data bridge.SendFileData) {
	reader, err := filestore.OpenReader(data.Path)
	if err != nil {
		e.log.Warn("open file failed", "path", data.Path, "err", err)
		return
	}
	defer reader.Close()

	payload, err := reader.ReadAll()
	if err != nil {
		e.log.Warn("read file failed", "path", data.Path, "err", err)
		return
	}

	id := e.ids.Next()
	name := filepath.Base(data.Path)
	count := reader.ShardCount()

	link := filelink.NewOutbound(id, name, data.Path, uint64(len(payload)))
	e.outLinks.Put(id, link)

	totalChecksum := wire.Checksum(payload)
	msgs := make([]*wire.Message, 0, count+1)
	msgs = append(msgs, wire.NewInit(id, wire.File, false, totalChecksum, count, []byte(name)))
	for i := uint64(0); i < count; i++ {
		start := i * wire.MaxPayload
		end := start + wire.MaxPayload
		if end > uint64(len(payload)) {
			end = uint64(len(payload))
		}
		msgs = append(msgs, wire.NewShard(id, wire.File, false, i, payload[start:end]))
	}

	e.dispatchOutgoing(msgs, data.To)
}

// dispatchOutgoing sends each datagram once through the network worker,
// then registers one outbox entry per resolved target peer so delivery
// can be retried independently per peer.
func (e *Engine) dispatchOutgoing(msgs []*wire.Message, to network.Recipients) {
	targets := e.resolveTargets(to)
	for _, msg := range msgs {
		e.send(msg, to)
		for _, peerID := range targets {
			e.outbox.Add(peerID, msg)
		}
	}
}

// resolveTargets expands a Recipients value into the peer ids it should
// be tracked against in the outbox.
func (e *Engine) resolveTargets(to network.Recipients) []peers.ID {
	switch to.Kind {
	case network.One:
		if peer, ok := e.peers.Get(to.IP); ok {
			return []peers.ID{peer.ID}
		}
		return nil

	case network.Peers, network.All:
		ips := e.peers.IPs()
		ids := make([]peers.ID, 0, len(ips))
		for _, ip := range ips {
			if peer, ok := e.peers.Get(ip); ok {
				ids = append(ids, peer.ID)
			}
		}
		return ids

	default:
		return nil
	}
}
