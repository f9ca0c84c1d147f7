package peers

import (
	"net/netip"
	"testing"
	"time"

	"github.com/nilsray/peerlink/internal/config"
)

func TestMain(m *testing.M) {
	if err := config.Init(); err != nil {
		panic(err)
	}
	m.Run()
}

var a = netip.MustParseAddr("10.0.0.1")

// S5: after TimeoutAlive of silence, CheckAlive transitions a peer from
// Online to Unknown; a subsequent send failure (simulated via MarkExit)
// transitions it to Offline.
func TestRegistry_S5_PresenceDecay(t *testing.T) {
	reg := NewRegistry()
	reg.Observe(a, DeriveID("alice", "desktop"), "alice")

	if got := reg.OnlineStatus(a); got != PresenceOnline {
		t.Fatalf("expected Online immediately after Observe, got %v", got)
	}

	alive := config.Load().TimeoutAlive
	past := time.Now().Add(alive + time.Second)
	reg.CheckAlive(past)

	if got := reg.OnlineStatus(a); got != PresenceUnknown {
		t.Fatalf("expected Unknown after TimeoutAlive of silence, got %v", got)
	}

	reg.MarkExit(a)
	if got := reg.OnlineStatus(a); got != PresenceOffline {
		t.Fatalf("expected Offline after MarkExit, got %v", got)
	}
}

func TestRegistry_ObserveReturnsIsNewOnlyOnceOrOnReturnFromOffline(t *testing.T) {
	reg := NewRegistry()

	_, isNew := reg.Observe(a, DeriveID("alice", ""), "alice")
	if !isNew {
		t.Fatalf("first sighting should report isNew=true")
	}

	_, isNew = reg.Observe(a, DeriveID("alice", ""), "alice")
	if isNew {
		t.Fatalf("repeated sighting of an online peer should report isNew=false")
	}

	reg.MarkExit(a)
	_, isNew = reg.Observe(a, DeriveID("alice", ""), "alice")
	if !isNew {
		t.Fatalf("re-sighting an offline peer should report isNew=true")
	}
}

func TestDeriveID_NeverCollidesWithPublic(t *testing.T) {
	for _, tag := range []string{"", "x", "desktop"} {
		if id := DeriveID("", tag); id == Public {
			t.Fatalf("DeriveID(%q, %q) collided with Public", "", tag)
		}
	}
}
