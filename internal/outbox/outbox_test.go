package outbox

import (
	"testing"

	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
)

func TestMain(m *testing.M) {
	if err := config.Init(); err != nil {
		panic(err)
	}
	m.Run()
}

// Property 6: Seen(id) received twice is idempotent — no entry remains.
func TestOutbox_SeenIsIdempotent(t *testing.T) {
	ob := New()
	peerID := peers.ID(1)
	msg := wire.NewSingle(42, wire.Text, []byte("hi"), false)
	ob.Add(peerID, msg)

	if got := ob.Get(peerID, msg.ID); len(got) != 1 {
		t.Fatalf("expected one pending entry before Seen, got %d", len(got))
	}

	ob.Seen(peerID, msg.ID)
	ob.Seen(peerID, msg.ID)

	if got := ob.Get(peerID, msg.ID); len(got) != 0 {
		t.Fatalf("expected no pending entries after Seen, got %d", len(got))
	}
}

func TestOutbox_SeenByAggregatesPublicAcks(t *testing.T) {
	ob := New()
	msg := wire.NewSingle(1, wire.Text, []byte("hi"), true)

	ob.Add(peers.ID(1), msg)
	ob.Add(peers.ID(2), msg)

	ob.Seen(peers.ID(1), msg.ID)
	if got := ob.SeenBy(msg.ID); len(got) != 1 || got[0] != peers.ID(1) {
		t.Fatalf("expected seenBy={1}, got %v", got)
	}

	ob.Seen(peers.ID(2), msg.ID)
	if got := ob.SeenBy(msg.ID); len(got) != 2 {
		t.Fatalf("expected seenBy to grow to 2 peers, got %v", got)
	}

	// Repeated Seen must not shrink or duplicate the set.
	ob.Seen(peers.ID(1), msg.ID)
	if got := ob.SeenBy(msg.ID); len(got) != 2 {
		t.Fatalf("expected seenBy to stay at 2 peers, got %v", got)
	}
}

func TestOutbox_RemoveDropsPendingWithoutSeenBy(t *testing.T) {
	ob := New()
	msg := wire.NewSingle(3, wire.File, []byte("x"), false)
	ob.Add(peers.ID(1), msg)

	ob.Remove(peers.ID(1), msg.ID)
	if got := ob.Get(peers.ID(1), msg.ID); len(got) != 0 {
		t.Fatalf("expected Remove to drop pending entries, got %d", len(got))
	}
}
