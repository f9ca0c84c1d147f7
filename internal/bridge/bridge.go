// Package bridge implements the two typed channels connecting the chat
// engine to a front-end: FrontEvent (front -> core) and BackEvent
// (core -> front). The generic tagged-union pattern generalizes a
// PeerEvent[T]/isEvent() marker shape from "peer-scoped event" to
// "front/back event".
package bridge

import (
	"net/netip"
	"time"

	"github.com/nilsray/peerlink/internal/filelink"
	"github.com/nilsray/peerlink/internal/network"
	"github.com/nilsray/peerlink/internal/peers"
	"github.com/nilsray/peerlink/internal/wire"
)

// FrontEvent is anything the front-end can inject into the engine.
type FrontEvent interface{ isFrontEvent() }

// Event[T] wraps a typed payload as a tagged union member.
type Event[T any] struct{ Data T }

func (Event[T]) isFrontEvent() {}
func (Event[T]) isBackEvent()  {}

type (
	SendMessageData struct {
		Text   string
		To     network.Recipients
		Public bool
	}
	SendFileData struct {
		Path string
		To   network.Recipients
	}
	PingData struct{ To network.Recipients }
	GreetData struct{ To network.Recipients }
	ExitData  struct{}
	AbortData struct{ ID wire.MessageID }

	SendMessageEvent = Event[SendMessageData]
	SendFileEvent    = Event[SendFileData]
	PingEvent        = Event[PingData]
	GreetEvent       = Event[GreetData]
	ExitEvent        = Event[ExitData]
	AbortEvent       = Event[AbortData]
)

func NewSendMessage(text string, to network.Recipients, public bool) SendMessageEvent {
	return Event[SendMessageData]{Data: SendMessageData{Text: text, To: to, Public: public}}
}
func NewSendFile(path string, to network.Recipients) SendFileEvent {
	return Event[SendFileData]{Data: SendFileData{Path: path, To: to}}
}
func NewPing(to network.Recipients) PingEvent   { return Event[PingData]{Data: PingData{To: to}} }
func NewGreet(to network.Recipients) GreetEvent { return Event[GreetData]{Data: GreetData{To: to}} }
func NewExit() ExitEvent                        { return Event[ExitData]{} }
func NewAbort(id wire.MessageID) AbortEvent     { return Event[AbortData]{Data: AbortData{ID: id}} }

// BackEvent is anything the engine surfaces to the front-end.
type BackEvent interface{ isBackEvent() }

// Content is the tagged-union payload of a surfaced message: {Text, Big,
// Icon, FileLink, Ping, Exit, Seen, Empty}.
type Content struct {
	Kind ContentKind
	Text string
	Link *filelink.Snapshot
}

type ContentKind uint8

const (
	ContentEmpty ContentKind = iota
	ContentText
	ContentBig
	ContentIcon
	ContentFileLink
	ContentPing
	ContentExit
	ContentSeen
)

type (
	MyIPData struct{ IP netip.Addr }

	PeerJoinedData struct {
		IP   netip.Addr
		Name string
	}
	PeerLeftData struct{ IP netip.Addr }

	MessageData struct {
		Timestamp time.Time
		Incoming  bool
		Public    bool
		PeerID    peers.ID
		ID        wire.MessageID
		Content   Content
		SeenBy    []peers.ID
	}

	MyIPEvent       = Event[MyIPData]
	PeerJoinedEvent = Event[PeerJoinedData]
	PeerLeftEvent   = Event[PeerLeftData]
	MessageEvent    = Event[MessageData]
)

func NewMyIP(ip netip.Addr) MyIPEvent { return Event[MyIPData]{Data: MyIPData{IP: ip}} }

func NewPeerJoined(ip netip.Addr, name string) PeerJoinedEvent {
	return Event[PeerJoinedData]{Data: PeerJoinedData{IP: ip, Name: name}}
}

func NewPeerLeft(ip netip.Addr) PeerLeftEvent {
	return Event[PeerLeftData]{Data: PeerLeftData{IP: ip}}
}

func NewMessage(d MessageData) MessageEvent { return Event[MessageData]{Data: d} }

// Bridge is the pair of buffered channels linking front-end and
// engine. Channels are buffered per config rather than truly unbounded, a
// pragmatic Go adaptation of the original's unbounded MPMC channel.
type Bridge struct {
	Front chan FrontEvent
	Back  chan BackEvent
}

// New allocates a Bridge with the given channel capacities.
func New(frontBacklog, backBacklog int) *Bridge {
	return &Bridge{
		Front: make(chan FrontEvent, frontBacklog),
		Back:  make(chan BackEvent, backBacklog),
	}
}
