// Package network owns the UDP socket: address enumeration, and
// send/receive dispatch with the One/Peers/All/Myself recipient model.
package network

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
	"golang.org/x/sys/unix"
)

// RecipientKind selects how a datagram is addressed.
type RecipientKind uint8

const (
	// One addresses a single known IP.
	One RecipientKind = iota
	// Peers addresses every currently known peer.
	Peers
	// All broadcasts to every address in the precomputed subnet sweep.
	All
	// Myself addresses the worker's own bound address, used to unblock
	// a synchronous receive loop on shutdown.
	Myself
)

// Recipients describes the target(s) of a Send call.
type Recipients struct {
	Kind RecipientKind
	IP   netip.Addr // meaningful only when Kind == One
}

func RecipientOne(ip netip.Addr) Recipients  { return Recipients{Kind: One, IP: ip} }
func RecipientsPeers() Recipients            { return Recipients{Kind: Peers} }
func RecipientsAll() Recipients              { return Recipients{Kind: All} }
func RecipientsMyself() Recipients           { return Recipients{Kind: Myself} }

// maxDatagram caps outgoing datagram size well below common MTU.
const maxDatagram = 128 + wire.MaxPayload

// Worker owns a bound UDP socket plus the precomputed broadcast address
// list for the local subnet.
type Worker struct {
	conn     *net.UDPConn
	bound    netip.AddrPort
	registry *peers.Registry
	all      []netip.AddrPort
}

// Bind opens a UDP socket at addr:port with broadcast enabled and
// multicast loopback disabled, and precomputes the broadcast sweep: one
// octet (subnetMaskBits/8, or the last octet when that is out of range)
// is swept 0..254 while the others keep addr's values.
func Bind(addr netip.Addr, port uint16, subnetMaskBits int, registry *peers.Registry) (*Worker, error) {
	udpAddr := &net.UDPAddr{IP: addr.AsSlice(), Port: int(port)}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("network: bind %s:%d: %w", addr, port, err)
	}

	if err := setBroadcast(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("network: enable broadcast: %w", err)
	}

	octets := addr.As4()
	all := broadcastSweep(octets, port, subnetMaskBits)

	return &Worker{
		conn:     conn,
		bound:    netip.AddrPortFrom(addr, port),
		registry: registry,
		all:      all,
	}, nil
}

func broadcastSweep(octets [4]byte, port uint16, maskBits int) []netip.AddrPort {
	sweepOctet := maskBits / 8
	if sweepOctet < 1 || sweepOctet > 3 {
		sweepOctet = 3 // default /24
	}

	var out []netip.AddrPort
	for i := 0; i <= 254; i++ {
		o := octets
		o[sweepOctet] = byte(i)
		out = append(out, netip.AddrPortFrom(netip.AddrFrom4(o), port))
	}
	return out
}

// LocalAddrPort returns the bound address.
func (w *Worker) LocalAddrPort() netip.AddrPort { return w.bound }

// Send transmits msg to the given recipients, upgrading Peers to All when
// no peers are known yet (nobody to unicast to).
func (w *Worker) Send(msg *wire.Message, to Recipients) error {
	payload, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("network: encode: %w", err)
	}
	if len(payload) > maxDatagram {
		return fmt.Errorf("network: datagram too large (%d bytes)", len(payload))
	}

	kind := to.Kind
	if kind == Peers && w.registry.Len() == 0 {
		kind = All
	}

	switch kind {
	case One:
		return w.sendTo(payload, netip.AddrPortFrom(to.IP, w.bound.Port()))
	case Peers:
		var firstErr error
		for _, ip := range w.registry.IPs() {
			if err := w.sendTo(payload, netip.AddrPortFrom(ip, w.bound.Port())); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case All:
		var firstErr error
		for _, addr := range w.all {
			if err := w.sendTo(payload, addr); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case Myself:
		return w.sendTo(payload, w.bound)
	default:
		return fmt.Errorf("network: unknown recipient kind %d", kind)
	}
}

func (w *Worker) sendTo(payload []byte, addr netip.AddrPort) error {
	_, err := w.conn.WriteToUDPAddrPort(payload, addr)
	return err
}

// ReadFrom blocks until a datagram arrives, returning its sender and
// decoded contents. A Malformed datagram is surfaced as an error; callers
// should discard it and keep listening rather than treat it as fatal.
func (w *Worker) ReadFrom() (netip.Addr, *wire.Message, error) {
	buf := make([]byte, maxDatagram+64)
	n, addrPort, err := w.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return netip.Addr{}, nil, err
	}

	msg, err := wire.Decode(buf[:n])
	if err != nil {
		return addrPort.Addr(), nil, err
	}
	return addrPort.Addr(), msg, nil
}

// Close releases the underlying socket.
func (w *Worker) Close() error { return w.conn.Close() }

// setBroadcast enables SO_BROADCAST on the socket so sends to the
// precomputed subnet sweep succeed, and disables IP_MULTICAST_LOOP.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
		if sockErr == nil {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 0)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
