// Package chat implements the engine: the event loop that owns the
// peers registry, outbox, and inbox, dispatches incoming wire commands,
// and drives the listener/pulse goroutines.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/nilsray/peerlink/internal/bridge"
	"github.com/nilsray/peerlink/internal/config"
	"github.com/nilsray/peerlink/internal/filelink"
	"github.com/nilsray/peerlink/internal/filestore"
	"github.com/nilsray/peerlink/internal/idgen"
	"github.com/nilsray/peerlink/internal/inbox"
	"github.com/nilsray/peerlink/internal/network"
	"github.com/nilsray/peerlink/internal/outbox"
	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
	"github.com/nilsray/peerlink/pkg/syncmap"
	"golang.org/x/sync/errgroup"
)

// Stats are ambient engine counters, snapshotted the same way
// Swarm.statsLoop reports SwarmMetrics — observability, not a
// protocol-visible behavior.
type Stats struct {
	MessagesSent     atomic.Uint64
	MessagesReceived atomic.Uint64
	ShardsDropped    atomic.Uint64
	Retransmits      atomic.Uint64
}

// incoming pairs a decoded datagram with its sender, the unit the
// listener goroutine forwards to the engine's event loop.
type incoming struct {
	from netip.Addr
	msg  *wire.Message
}

// Engine owns all chat state exclusively: peers, inbox, outbox, and the
// send side of the socket. It runs a dedicated event loop goroutine.
type Engine struct {
	log    *slog.Logger
	net    *network.Worker
	peers  *peers.Registry
	outbox *outbox.Outbox
	inbox  *inbox.Inbox
	ids    *idgen.Generator
	bridge *bridge.Bridge
	self   peers.ID
	name   string

	// outLinks tracks outbound file transfers by id, so a local Abort
	// can reach the same Link a renderer is reading progress from.
	outLinks *syncmap.Map[wire.MessageID, *filelink.Link]

	Stats Stats

	incomingCh chan incoming
}

// New assembles an Engine bound to a socket, using the process-wide
// config singleton for identity and timing.
func New(log *slog.Logger, br *bridge.Bridge) (*Engine, error) {
	cfg := config.Load()

	reg := peers.NewRegistry()
	netw, err := network.Bind(cfg.BindAddr, cfg.Port, cfg.SubnetMaskBits, reg)
	if err != nil {
		return nil, err
	}

	return &Engine{
		log:        log,
		net:        netw,
		peers:      reg,
		outbox:     outbox.New(),
		inbox:      inbox.New(),
		ids:        idgen.New(),
		bridge:     br,
		self:       peers.DeriveID(cfg.Name, cfg.DeviceTag),
		name:       cfg.Name,
		outLinks:   syncmap.New[wire.MessageID, *filelink.Link](),
		incomingCh: make(chan incoming, cfg.EventQueueBacklog),
	}, nil
}

// Run starts the listener, pulse, and engine loop goroutines under one
// errgroup. It blocks until the engine receives an Exit front-event or
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	cfg := config.Load()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return e.listenLoop(gctx) })
	g.Go(func() error { return e.pulseLoop(gctx, cfg.TimeoutCheck) })
	g.Go(func() error {
		// An Exit makes eventLoop return nil, which errgroup does not treat
		// as a reason to cancel; stop the pulse explicitly.
		defer stop()
		return e.eventLoop(gctx)
	})

	e.bridge.Back <- bridge.NewMyIP(cfg.BindAddr)

	err := g.Wait()
	if ctx.Err() == nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listenLoop blocks on ReadFrom and forwards decoded datagrams to the
// engine loop. It exits when it decodes an Exit datagram from its own
// bound address, the language-neutral way to interrupt a synchronous
// receive; any other datagram from its own address (its own broadcast
// sweep) is dropped.
func (e *Engine) listenLoop(ctx context.Context) error {
	for {
		from, msg, err := e.net.ReadFrom()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				e.log.Warn("read failed", "err", err)
				continue
			}
		}
		if msg == nil {
			e.log.Debug("dropped malformed datagram", "from", from)
			continue
		}

		if from == e.net.LocalAddrPort().Addr() {
			if msg.Command == wire.Exit {
				return nil
			}
			continue
		}

		select {
		case e.incomingCh <- incoming{from: from, msg: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pulseLoop periodically injects a Ping(All) into the engine, driving
// presence checks and retransmit cadence.
func (e *Engine) pulseLoop(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			select {
			case e.bridge.Front <- bridge.NewPing(network.RecipientsAll()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// eventLoop is the single dedicated goroutine that owns peers/inbox/
// outbox and consumes both the front-event queue and decoded datagrams.
func (e *Engine) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fe := <-e.bridge.Front:
			if e.handleFront(fe) {
				return nil
			}

		case in := <-e.incomingCh:
			e.Stats.MessagesReceived.Add(1)
			e.handleIncoming(in.from, in.msg)
		}
	}
}

// handleFront dispatches one FrontEvent. It returns true when the engine
// should stop (Exit).
func (e *Engine) handleFront(fe bridge.FrontEvent) bool {
	switch ev := fe.(type) {
	case bridge.SendMessageEvent:
		e.sendText(ev.Data)
	case bridge.SendFileEvent:
		e.sendFile(ev.Data)
	case bridge.PingEvent:
		e.checkAlive()
		e.retransmitDue()
		e.wakeStaleInboxes()
		e.send(wire.NewEnter(e.ids.Next(), e.name), ev.Data.To)
	case bridge.GreetEvent:
		e.send(wire.NewGreeting(e.ids.Next(), e.name), ev.Data.To)
	case bridge.AbortEvent:
		e.handleLocalAbort(ev.Data.ID)
	case bridge.ExitEvent:
		e.send(wire.NewExit(e.ids.Next()), network.RecipientsPeers())
		e.send(wire.NewExit(e.ids.Next()), network.RecipientsMyself())
		return true
	}
	return false
}

// Peers exposes the engine's peer registry for read-only front-end
// queries (ListPeers, presence display).
func (e *Engine) Peers() *peers.Registry { return e.peers }

func (e *Engine) send(msg *wire.Message, to network.Recipients) {
	if err := e.net.Send(msg, to); err != nil {
		e.log.Warn("send failed", "command", msg.Command, "err", err)
		if to.Kind == network.One {
			e.peers.MarkExit(to.IP)
			e.bridge.Back <- bridge.NewPeerLeft(to.IP)
		}
		return
	}
	e.Stats.MessagesSent.Add(1)
}

// checkAlive re-evaluates presence for every known peer.
func (e *Engine) checkAlive() {
	e.peers.CheckAlive(time.Now())
}

func (e *Engine) wakeStaleInboxes() {
	for _, ip := range e.peers.IPs() {
		for _, entry := range e.inbox.StaleForSender(ip, time.Now()) {
			e.combine(entry)
		}
	}
}

// handleLocalAbort cancels an outbound file transfer the local user
// cancelled.
func (e *Engine) handleLocalAbort(id wire.MessageID) {
	if link, ok := e.outLinks.Get(id); ok {
		link.Abort()
	}
	for _, ip := range e.peers.IPs() {
		if peer, ok := e.peers.Get(ip); ok {
			e.outbox.Remove(peer.ID, id)
		}
	}
	e.send(wire.NewAbort(id), network.RecipientsPeers())
}

// filestoreWriter writes a completed inbound file to disk.
var filestoreWriter = filestore.WriteFile
