// Package wire implements the bit-packed UDP datagram format shared by all
// peerlink instances on a subnet: a 1-byte header (public flag, part kind,
// command code), a 4-byte message id, a 2-byte CRC, a part-specific prefix,
// and up to 100 bytes of payload.
package wire

import (
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Command identifies the purpose of a datagram.
type Command uint8

const (
	Enter Command = iota
	Greeting
	Text
	File
	AskToRepeat
	Repeat
	Exit
	Seen
	Abort
	Error
)

func (c Command) String() string {
	switch c {
	case Enter:
		return "Enter"
	case Greeting:
		return "Greeting"
	case Text:
		return "Text"
	case File:
		return "File"
	case AskToRepeat:
		return "AskToRepeat"
	case Repeat:
		return "Repeat"
	case Exit:
		return "Exit"
	case Seen:
		return "Seen"
	case Abort:
		return "Abort"
	case Error:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// MessageID identifies one logical (possibly multi-shard) message sent by
// one peer.
type MessageID uint32

// PartKind discriminates the shape of the part-specific header prefix.
type PartKind uint8

const (
	PartSingle   PartKind = 0
	PartInit     PartKind = 1
	PartAskRange PartKind = 2
	PartShard    PartKind = 3
)

func (k PartKind) String() string {
	switch k {
	case PartSingle:
		return "Single"
	case PartInit:
		return "Init"
	case PartAskRange:
		return "AskRange"
	case PartShard:
		return "Shard"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Part is the part-specific portion of a datagram's header.
//
// Exactly one of the typed accessors is meaningful, selected by Kind.
type Part struct {
	Kind PartKind

	// Init fields.
	TotalChecksum uint16
	Count         uint64

	// Shard field.
	Index uint64

	// AskRange fields.
	Lo, Hi uint64
}

// PartSingleValue returns the Single part.
func PartSingleValue() Part { return Part{Kind: PartSingle} }

// PartInitValue returns an Init part describing a multi-shard message.
func PartInitValue(totalChecksum uint16, count uint64) Part {
	return Part{Kind: PartInit, TotalChecksum: totalChecksum, Count: count}
}

// PartShardValue returns a Shard part for the given index.
func PartShardValue(index uint64) Part {
	return Part{Kind: PartShard, Index: index}
}

// PartAskRangeValue returns an AskRange part covering [lo, hi] inclusive.
func PartAskRangeValue(lo, hi uint64) Part {
	return Part{Kind: PartAskRange, Lo: lo, Hi: hi}
}

const (
	// MaxPayload is the largest payload carried by a single shard.
	MaxPayload = 100

	// headerLen is the fixed public/part/command byte plus id plus checksum.
	headerLen = 1 + 4 + 2
)

var (
	ErrMalformed     = errors.New("wire: malformed datagram")
	ErrUnknownPart   = errors.New("wire: unknown part code")
	ErrUnknownCmd    = errors.New("wire: unknown command code")
	ErrPayloadTooBig = errors.New("wire: payload exceeds maximum shard size")
)

// Message is a single UDP datagram in the peerlink protocol.
type Message struct {
	ID       MessageID
	Public   bool
	Part     Part
	Checksum uint16
	Command  Command
	Data     []byte
}

var (
	_ encoding.BinaryMarshaler   = (*Message)(nil)
	_ encoding.BinaryUnmarshaler = (*Message)(nil)
	_ io.WriterTo                = (*Message)(nil)
)

// String renders a one-line diagnostic.
func (m *Message) String() string {
	return fmt.Sprintf("#%d public=%t %s/%s checksum=%d len=%d",
		m.ID, m.Public, m.Command, m.Part.Kind, m.Checksum, len(m.Data))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *Message) MarshalBinary() ([]byte, error) {
	if len(m.Data) > MaxPayload {
		return nil, ErrPayloadTooBig
	}

	prefixLen := partPrefixLen(m.Part.Kind)
	buf := make([]byte, headerLen+prefixLen+len(m.Data))

	var header byte
	if m.Public {
		header |= 1
	}
	header |= byte(m.Part.Kind&0x3) << 1
	header |= byte(m.Command&0x1f) << 3
	buf[0] = header

	binary.BigEndian.PutUint32(buf[1:5], uint32(m.ID))
	binary.BigEndian.PutUint16(buf[5:7], m.Checksum)

	off := headerLen
	switch m.Part.Kind {
	case PartSingle:
	case PartInit:
		binary.BigEndian.PutUint16(buf[off:off+2], m.Part.TotalChecksum)
		binary.BigEndian.PutUint64(buf[off+2:off+10], m.Part.Count)
	case PartShard:
		binary.BigEndian.PutUint64(buf[off:off+8], m.Part.Index)
	case PartAskRange:
		binary.BigEndian.PutUint64(buf[off:off+8], m.Part.Lo)
		binary.BigEndian.PutUint64(buf[off+8:off+16], m.Part.Hi)
	default:
		return nil, ErrUnknownPart
	}

	copy(buf[headerLen+prefixLen:], m.Data)
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < headerLen {
		return ErrMalformed
	}

	header := b[0]
	public := header&1 != 0
	kind := PartKind((header >> 1) & 0x3)
	cmd := Command((header >> 3) & 0x1f)

	if cmd > Error {
		return fmt.Errorf("%w: %w", ErrMalformed, ErrUnknownCmd)
	}

	prefixLen := partPrefixLen(kind)
	if prefixLen < 0 {
		return fmt.Errorf("%w: %w", ErrMalformed, ErrUnknownPart)
	}
	if len(b) < headerLen+prefixLen {
		return ErrMalformed
	}

	id := MessageID(binary.BigEndian.Uint32(b[1:5]))
	checksum := binary.BigEndian.Uint16(b[5:7])

	part := Part{Kind: kind}
	off := headerLen
	switch kind {
	case PartSingle:
	case PartInit:
		part.TotalChecksum = binary.BigEndian.Uint16(b[off : off+2])
		part.Count = binary.BigEndian.Uint64(b[off+2 : off+10])
	case PartShard:
		part.Index = binary.BigEndian.Uint64(b[off : off+8])
	case PartAskRange:
		part.Lo = binary.BigEndian.Uint64(b[off : off+8])
		part.Hi = binary.BigEndian.Uint64(b[off+8 : off+16])
	}

	data := make([]byte, len(b)-headerLen-prefixLen)
	copy(data, b[headerLen+prefixLen:])

	m.ID = id
	m.Public = public
	m.Part = part
	m.Checksum = checksum
	m.Command = cmd
	m.Data = data

	return nil
}

// WriteTo implements io.WriterTo.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	b, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

func partPrefixLen(kind PartKind) int {
	switch kind {
	case PartSingle:
		return 0
	case PartInit:
		return 10
	case PartShard:
		return 8
	case PartAskRange:
		return 16
	default:
		return -1
	}
}

// Decode parses a raw datagram into a Message.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := m.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serializes m into a fresh byte slice.
func Encode(m *Message) ([]byte, error) {
	return m.MarshalBinary()
}
