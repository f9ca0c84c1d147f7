// Package peers tracks the set of other instances observed on the subnet:
// their addresses, advertised names, and presence.
package peers

import (
	"hash/fnv"
	"net/netip"
	"time"

	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/pkg/syncmap"
)

// ID is an opaque identifier derived from a peer's chosen name and device
// tag, hashed into a fixed-width integer.
type ID uint64

// Public is the reserved zero value denoting the broadcast room rather
// than a specific peer.
const Public ID = 0

// DeriveID hashes name and deviceTag into an ID via FNV-1a, so the same
// name and tag always yield the same ID.
func DeriveID(name, deviceTag string) ID {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(deviceTag))
	sum := h.Sum64()
	if sum == uint64(Public) {
		// Never collide with the reserved broadcast id.
		sum++
	}
	return ID(sum)
}

// Presence is a peer's last-known liveness state.
type Presence uint8

const (
	PresenceUnknown Presence = iota
	PresenceOnline
	PresenceOffline
)

func (p Presence) String() string {
	switch p {
	case PresenceOnline:
		return "Online"
	case PresenceOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

// Peer is one other instance observed on the subnet.
type Peer struct {
	IP       netip.Addr
	ID       ID
	Name     string
	Presence Presence
	LastSeen time.Time
}

// DisplayName returns the peer's advertised name, falling back to its
// dotted IP when no name has been learned yet.
func (p *Peer) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.IP.String()
}

// Registry is the engine's concurrent-safe view of known peers, keyed by
// IP (the wire-visible address; ID is carried alongside once learned).
type Registry struct {
	byIP *syncmap.Map[netip.Addr, *Peer]
}

// NewRegistry returns an empty peer registry.
func NewRegistry() *Registry {
	return &Registry{byIP: syncmap.New[netip.Addr, *Peer]()}
}

// Observe inserts a new peer or refreshes an existing one. It returns
// true if this is the peer's first sighting or a transition out of
// Offline.
func (r *Registry) Observe(ip netip.Addr, id ID, name string) (peer *Peer, isNew bool) {
	existing, ok := r.byIP.Get(ip)
	if !ok {
		p := &Peer{
			IP:       ip,
			ID:       id,
			Name:     name,
			Presence: PresenceOnline,
			LastSeen: time.Now(),
		}
		r.byIP.Put(ip, p)
		return p, true
	}

	wasOffline := existing.Presence == PresenceOffline
	existing.LastSeen = time.Now()
	existing.Presence = PresenceOnline
	if id != Public {
		existing.ID = id
	}
	if name != "" {
		existing.Name = name
	}

	return existing, wasOffline
}

// MarkExit sets the peer at ip to Offline, if known.
func (r *Registry) MarkExit(ip netip.Addr) {
	if p, ok := r.byIP.Get(ip); ok {
		p.Presence = PresenceOffline
	}
}

// CheckAlive re-evaluates every non-Offline peer's presence against now,
// per TIMEOUT_ALIVE.
func (r *Registry) CheckAlive(now time.Time) {
	alive := config.Load().TimeoutAlive
	r.byIP.Range(func(_ netip.Addr, p *Peer) bool {
		if p.Presence == PresenceOffline {
			return true
		}
		if now.Sub(p.LastSeen) <= alive {
			p.Presence = PresenceOnline
		} else {
			p.Presence = PresenceUnknown
		}
		return true
	})
}

// OnlineStatus reports the presence of the peer at ip, or Unknown when no
// peer is known there. PublicStatus gives the aggregate for the public
// room.
func (r *Registry) OnlineStatus(ip netip.Addr) Presence {
	if p, ok := r.byIP.Get(ip); ok {
		return p.Presence
	}
	return PresenceUnknown
}

// PublicStatus aggregates presence across all known peers: Online if any
// peer is Online, Offline if all are Offline, Unknown otherwise.
func (r *Registry) PublicStatus() Presence {
	anyOnline := false
	allOffline := true
	r.byIP.Range(func(_ netip.Addr, p *Peer) bool {
		if p.Presence == PresenceOnline {
			anyOnline = true
		}
		if p.Presence != PresenceOffline {
			allOffline = false
		}
		return true
	})

	switch {
	case anyOnline:
		return PresenceOnline
	case allOffline:
		return PresenceOffline
	default:
		return PresenceUnknown
	}
}

// DisplayName returns the display name for the peer at ip, or the dotted
// IP if unknown.
func (r *Registry) DisplayName(ip netip.Addr) string {
	if p, ok := r.byIP.Get(ip); ok {
		return p.DisplayName()
	}
	return ip.String()
}

// Get returns the peer at ip, if known.
func (r *Registry) Get(ip netip.Addr) (*Peer, bool) {
	return r.byIP.Get(ip)
}

// Remove drops the peer at ip unconditionally.
func (r *Registry) Remove(ip netip.Addr) {
	r.byIP.Delete(ip)
}

// Snapshot returns a copy of all known peers.
func (r *Registry) Snapshot() []Peer {
	out := make([]Peer, 0, r.byIP.Len())
	r.byIP.Range(func(_ netip.Addr, p *Peer) bool {
		out = append(out, *p)
		return true
	})
	return out
}

// RemoveUnseen drops Offline peers whose LastSeen is more than after
// before now, an idle-peer-eviction sweep.
func (r *Registry) RemoveUnseen(now time.Time, after time.Duration) {
	var stale []netip.Addr
	r.byIP.Range(func(ip netip.Addr, p *Peer) bool {
		if p.Presence == PresenceOffline && now.Sub(p.LastSeen) > after {
			stale = append(stale, ip)
		}
		return true
	})
	if len(stale) > 0 {
		r.byIP.Delete(stale...)
	}
}

// IPs returns the addresses of all known peers.
func (r *Registry) IPs() []netip.Addr {
	out := make([]netip.Addr, 0, r.byIP.Len())
	r.byIP.Range(func(ip netip.Addr, _ *Peer) bool {
		out = append(out, ip)
		return true
	})
	return out
}

// Len reports the number of known peers.
func (r *Registry) Len() int { return r.byIP.Len() }
