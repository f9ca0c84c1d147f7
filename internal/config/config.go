package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Config defines the runtime behavior of a chat engine instance: its
// identity, the socket it binds, and the timing constants governing
// presence, retransmission and reassembly.
type Config struct {
	// ========== Identity ==========

	// Name is the display name advertised to peers on Enter/Greeting.
	Name string

	// DeviceTag distinguishes multiple instances run by the same user on
	// the same LAN (e.g. phone vs desktop) and feeds PeerID derivation.
	DeviceTag string

	// DownloadsDir is where completed inbound files are written.
	DownloadsDir string

	// ========== Networking ==========

	// BindAddr is the local IPv4 address the UDP socket binds to. The
	// default config fills it by auto-detection (detectBindAddr); a zero
	// value set later is not re-detected.
	BindAddr netip.Addr

	// Port is the UDP port used for both sending and receiving.
	Port uint16

	// SubnetMaskBits selects which octet the broadcast sweep varies over
	// 0-254: octet SubnetMaskBits/8, or the last octet when that is out of
	// range (e.g. /24 sweeps .0-.254 on the last octet).
	SubnetMaskBits int

	// ========== Presence / Timeouts ==========

	// TimeoutSecond is the quiet period after which an unfinished inbox
	// entry is woken by the pulse and asked for its missing shards.
	TimeoutSecond time.Duration

	// TimeoutCheck is how often the pulse goroutine re-evaluates peer
	// presence against TimeoutAlive.
	TimeoutCheck time.Duration

	// TimeoutAlive is the quiet period after which a peer drops from
	// Online to Unknown. A peer becomes Offline only on Exit or a failed
	// send, never by timeout.
	TimeoutAlive time.Duration

	// ========== Retransmission ==========

	// RetransmitMultiplier scales the backoff delay between successive
	// retransmit attempts for the same outbox entry.
	RetransmitMultiplier float64

	// RetransmitMaxDelay caps the exponential backoff applied to
	// undelivered outbox entries.
	RetransmitMaxDelay time.Duration

	// ========== Queues ==========

	// EventQueueBacklog sizes the front-to-back command channel and the
	// engine's queue of decoded incoming datagrams.
	EventQueueBacklog int

	// BackEventBacklog sizes the back-to-front event channel consumed by
	// the bridge.
	BackEventBacklog int
}

func defaultConfig() (Config, error) {
	bindAddr, err := detectBindAddr()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Name:                 "",
		DeviceTag:            "",
		DownloadsDir:         defaultDownloadsDir(),
		BindAddr:             bindAddr,
		Port:                 4444,
		SubnetMaskBits:       24,
		TimeoutSecond:        1 * time.Second,
		TimeoutCheck:         1 * time.Second,
		TimeoutAlive:         5 * time.Second,
		RetransmitMultiplier: 2.0,
		RetransmitMaxDelay:   30 * time.Second,
		EventQueueBacklog:    1024,
		BackEventBacklog:     1024,
	}, nil
}

// detectBindAddr picks the local IPv4 address peerlink should bind to,
// via a UDP "dial" to a public address: no packet is ever sent, but the
// kernel resolves which local interface/address would carry it, the
// standard no-dependency trick for "what's my outbound address". When
// the dial fails it returns an error if the host has a global IPv6
// address (an IPv6-only host, unsupported) and falls back to loopback
// otherwise; it also falls back to loopback when the local address is
// not IPv4.
func detectBindAddr() (netip.Addr, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		if hasIPv6() {
			return netip.Addr{}, fmt.Errorf("config: no reachable IPv4 interface found; this host appears to be IPv6-only, which peerlink does not support: %w", err)
		}
		return netip.MustParseAddr("127.0.0.1"), nil
	}
	defer conn.Close()

	ip := conn.LocalAddr().(*net.UDPAddr).IP.To4()
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.MustParseAddr("127.0.0.1"), nil
	}
	return addr, nil
}

// hasIPv6 reports whether any up, non-loopback interface carries a global
// unicast IPv6 address.
func hasIPv6() bool {
	ifaces, _ := net.Interfaces()

	for _, ifi := range ifaces {
		if (ifi.Flags & net.FlagUp) == 0 {
			continue
		}
		addrs, _ := ifi.Addrs()
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip == nil || ip.To4() != nil {
				continue
			}
			if ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast() && !ip.IsLoopback() {
				return true
			}
		}
	}

	return false
}

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		if cwd, err := os.Getwd(); err == nil {
			return filepath.Join(cwd, "downloads")
		}
		return "./downloads"
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		return filepath.Join(home, "Downloads", "peerlink")
	default: // linux, bsd, etc.
		return filepath.Join(home, ".local", "share", "peerlink", "downloads")
	}
}
