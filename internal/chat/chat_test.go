package chat

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nilsray/peerlink/internal/bridge"
	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/internal/filelink"
	"github.com/nilsray/peerlink/internal/network"
	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
)

func TestMain(m *testing.M) {
	if err := config.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLoopbackEngine binds to a distinct loopback address sharing port with
// its peers, since network.Worker.Send addresses a One recipient using the
// sender's own bound port (every peer is assumed to listen on the same
// configured port).
func newLoopbackEngine(t *testing.T, name string, addr netip.Addr, port uint16) *Engine {
	t.Helper()

	config.Update(func(c *config.Config) {
		c.Name = name
		c.DeviceTag = ""
		c.BindAddr = addr
		c.Port = port
		c.SubnetMaskBits = 24
		c.DownloadsDir = t.TempDir()
	})

	e, err := New(testLogger(), bridge.New(32, 32))
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	t.Cleanup(func() { _ = e.net.Close() })
	return e
}

// waitFor reads back-events off ch until one asserts to T or timeout
// elapses, discarding anything else (e.g. the startup MyIPEvent).
func waitFor[T bridge.BackEvent](t *testing.T, ch chan bridge.BackEvent, timeout time.Duration) T {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// S1: an Enter broadcast from alice reaches bob, who replies with a
// Greeting; each side surfaces the other as PeerJoined.
func TestEngine_S1_Discovery(t *testing.T) {
	a := newLoopbackEngine(t, "alice", netip.MustParseAddr("127.0.0.1"), 44510)
	b := newLoopbackEngine(t, "bob", netip.MustParseAddr("127.0.0.2"), 44510)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	go b.Run(ctx)

	a.bridge.Front <- bridge.NewPing(network.RecipientsAll())

	joinedOnB := waitFor[bridge.PeerJoinedEvent](t, b.bridge.Back, 2*time.Second)
	if joinedOnB.Data.Name != "alice" {
		t.Fatalf("bob expected to see alice join, got %q", joinedOnB.Data.Name)
	}

	joinedOnA := waitFor[bridge.PeerJoinedEvent](t, a.bridge.Back, 2*time.Second)
	if joinedOnA.Data.Name != "bob" {
		t.Fatalf("alice expected to see bob join, got %q", joinedOnA.Data.Name)
	}
}

// S2: a short text message sent privately from alice to bob is surfaced
// on bob's side with matching content.
func TestEngine_S2_ShortTextMessage(t *testing.T) {
	aAddr := netip.MustParseAddr("127.0.0.3")
	bAddr := netip.MustParseAddr("127.0.0.4")

	a := newLoopbackEngine(t, "alice", aAddr, 44511)
	b := newLoopbackEngine(t, "bob", bAddr, 44511)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	go b.Run(ctx)

	a.bridge.Front <- bridge.NewPing(network.RecipientsAll())
	waitFor[bridge.PeerJoinedEvent](t, b.bridge.Back, 2*time.Second)
	waitFor[bridge.PeerJoinedEvent](t, a.bridge.Back, 2*time.Second)

	a.bridge.Front <- bridge.NewSendMessage("hello bob", network.RecipientOne(bAddr), false)

	msg := waitFor[bridge.MessageEvent](t, b.bridge.Back, 2*time.Second)
	if !msg.Data.Incoming || msg.Data.Public {
		t.Fatalf("expected an incoming private message, got %+v", msg.Data)
	}
	if msg.Data.Content.Kind != bridge.ContentText || msg.Data.Content.Text != "hello bob" {
		t.Fatalf("expected text %q, got %+v", "hello bob", msg.Data.Content)
	}
}

// S4: cancelling an in-flight outbound file transfer clears its link and
// drops every pending outbox entry, so no further shard is retransmitted.
func TestEngine_S4_AbortCancelsOutboundTransfer(t *testing.T) {
	a := newLoopbackEngine(t, "alice", netip.MustParseAddr("127.0.0.5"), 44512)

	peerAddr := netip.MustParseAddr("127.0.0.6")
	a.peers.Observe(peerAddr, peers.DeriveID("bob", ""), "bob")

	path := filepath.Join(t.TempDir(), "report.bin")
	if err := os.WriteFile(path, make([]byte, 3*wire.MaxPayload), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	a.handleFront(bridge.NewSendFile(path, network.RecipientOne(peerAddr)))

	var id wire.MessageID
	var found bool
	a.outLinks.Range(func(k wire.MessageID, _ *filelink.Link) bool {
		id, found = k, true
		return false
	})
	if !found {
		t.Fatalf("expected sendFile to register an outbound link")
	}

	peer, ok := a.peers.Get(peerAddr)
	if !ok {
		t.Fatalf("expected bob to be a known peer")
	}
	if got := a.outbox.Get(peer.ID, id); len(got) == 0 {
		t.Fatalf("expected pending outbox entries before abort")
	}

	a.handleFront(bridge.NewAbort(id))

	link, ok := a.outLinks.Get(id)
	if !ok || !link.IsAborted() {
		t.Fatalf("expected the outbound link to be marked aborted")
	}
	if got := a.outbox.Get(peer.ID, id); len(got) != 0 {
		t.Fatalf("expected abort to clear pending outbox entries, got %d", len(got))
	}
}
