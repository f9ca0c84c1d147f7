// Package ui is the Wails-bound adapter between the chat engine and the
// front-end: it exposes plain request/response methods for the UI to
// call, and republishes every BackEvent as a Wails runtime event.
package ui

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/nilsray/peerlink/internal/bridge"
	"github.com/nilsray/peerlink/internal/chat"
	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/internal/network"
	"github.com/nilsray/peerlink/internal/wire"
	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// backEventTopic is the Wails event name every BackEvent is republished
// under, as its bridge.Event[T] value ({"Data": ...}); the event itself
// carries no separate type tag.
const backEventTopic = "peerlink:event"

// Client is the bound object Wails exposes to the front-end.
type Client struct {
	log    *slog.Logger
	ctx    context.Context
	bridge *bridge.Bridge
	engine *chat.Engine
}

// NewClient assembles the engine and its bridge, using the process-wide
// config singleton (already Init'd by main).
func NewClient() (*Client, error) {
	log := slog.Default()
	cfg := config.Load()
	br := bridge.New(cfg.EventQueueBacklog, cfg.BackEventBacklog)

	engine, err := chat.New(log, br)
	if err != nil {
		return nil, err
	}

	return &Client{
		log:    log,
		ctx:    context.Background(),
		bridge: br,
		engine: engine,
	}, nil
}

// Startup is Wails' OnStartup hook: it launches the engine's run loop and
// the BackEvent-to-frontend relay.
func (c *Client) Startup(ctx context.Context) {
	c.ctx = ctx

	go func() {
		if err := c.engine.Run(ctx); err != nil && ctx.Err() == nil {
			c.log.Error("chat engine stopped", "error", err)
		}
	}()

	go c.relayBackEvents(ctx)
}

func (c *Client) relayBackEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.bridge.Back:
			runtime.EventsEmit(c.ctx, backEventTopic, ev)
		}
	}
}

// SendPublicMessage broadcasts text to every peer on the subnet.
func (c *Client) SendPublicMessage(text string) {
	c.bridge.Front <- bridge.NewSendMessage(text, network.RecipientsPeers(), true)
}

// SendPrivateMessage sends text to a single peer by IP.
func (c *Client) SendPrivateMessage(ip string, text string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return err
	}
	c.bridge.Front <- bridge.NewSendMessage(text, network.RecipientOne(addr), false)
	return nil
}

// SendFile starts an outbound file transfer to a single peer by IP.
func (c *Client) SendFile(ip string, path string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return err
	}
	c.bridge.Front <- bridge.NewSendFile(path, network.RecipientOne(addr))
	return nil
}

// AbortTransfer cancels an in-flight outbound file transfer by message id.
func (c *Client) AbortTransfer(id uint32) {
	c.bridge.Front <- bridge.NewAbort(wire.MessageID(id))
}

// Announce re-sends the discovery Enter broadcast, the Wails-bound
// equivalent of the engine's own periodic pulse.
func (c *Client) Announce() {
	c.bridge.Front <- bridge.NewPing(network.RecipientsAll())
}

// Shutdown asks the engine to leave the subnet and stop.
func (c *Client) Shutdown() {
	c.bridge.Front <- bridge.NewExit()
}

// PeerView is the plain-value shape of a Peer exposed to the front-end.
type PeerView struct {
	IP       string `json:"ip"`
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Presence string `json:"presence"`
}

// ListPeers returns a snapshot of every known peer.
func (c *Client) ListPeers() []PeerView {
	snap := c.engine.Peers().Snapshot()
	out := make([]PeerView, 0, len(snap))
	for _, p := range snap {
		out = append(out, PeerView{
			IP:       p.IP.String(),
			ID:       uint64(p.ID),
			Name:     p.DisplayName(),
			Presence: p.Presence.String(),
		})
	}
	return out
}

// Stats mirrors chat.Stats as a plain-value struct Wails can marshal.
type Stats struct {
	MessagesSent     uint64 `json:"messagesSent"`
	MessagesReceived uint64 `json:"messagesReceived"`
	ShardsDropped    uint64 `json:"shardsDropped"`
	Retransmits      uint64 `json:"retransmits"`
}

// GetStats returns a snapshot of the engine's ambient counters.
func (c *Client) GetStats() Stats {
	s := &c.engine.Stats
	return Stats{
		MessagesSent:     s.MessagesSent.Load(),
		MessagesReceived: s.MessagesReceived.Load(),
		ShardsDropped:    s.ShardsDropped.Load(),
		Retransmits:      s.Retransmits.Load(),
	}
}

// SelectDownloadDirectory opens a native directory picker for choosing
// where inbound files land.
func (c *Client) SelectDownloadDirectory() (string, error) {
	return runtime.OpenDirectoryDialog(c.ctx, runtime.OpenDialogOptions{
		Title: "Select Download Directory",
	})
}

// SelectFile opens a native file picker for choosing an outbound file.
func (c *Client) SelectFile() (string, error) {
	return runtime.OpenFileDialog(c.ctx, runtime.OpenDialogOptions{
		Title: "Select File to Send",
	})
}
