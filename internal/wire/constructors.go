package wire

import "encoding/binary"

// NewSingle builds a one-shard datagram carrying its entire payload,
// computing the CRC for commands that require one.
func NewSingle(id MessageID, command Command, data []byte, public bool) *Message {
	m := &Message{
		ID:      id,
		Public:  public,
		Part:    PartSingleValue(),
		Command: command,
		Data:    data,
	}
	if requiresChecksum(command) {
		m.Checksum = Checksum(data)
	}
	return m
}

// NewEnter builds the discovery announcement sent to the whole subnet.
func NewEnter(id MessageID, name string) *Message {
	return NewSingle(id, Enter, []byte(name), true)
}

// NewGreeting builds the unicast reply to an Enter.
func NewGreeting(id MessageID, name string) *Message {
	return NewSingle(id, Greeting, []byte(name), true)
}

// NewExit builds the departure notice.
func NewExit(id MessageID) *Message {
	return NewSingle(id, Exit, nil, true)
}

// NewSeen builds an acknowledgement datagram for the given message id.
func NewSeen(id MessageID, public bool) *Message {
	return NewSingle(id, Seen, nil, public)
}

// NewAbort builds a transfer-cancellation datagram.
func NewAbort(id MessageID) *Message {
	return NewSingle(id, Abort, nil, false)
}

// NewAskToRepeat builds a request to retransmit an inclusive shard range.
func NewAskToRepeat(id MessageID, lo, hi uint64) *Message {
	return &Message{
		ID:      id,
		Command: AskToRepeat,
		Part:    PartAskRangeValue(lo, hi),
	}
}

// NewInit builds the header datagram preceding a multi-shard message.
func NewInit(id MessageID, command Command, public bool, totalChecksum uint16, count uint64, firstPayload []byte) *Message {
	return &Message{
		ID:      id,
		Public:  public,
		Command: command,
		Part:    PartInitValue(totalChecksum, count),
		Data:    firstPayload,
	}
}

// NewShard builds one shard of a multi-shard message.
func NewShard(id MessageID, command Command, public bool, index uint64, payload []byte) *Message {
	m := &Message{
		ID:      id,
		Public:  public,
		Command: command,
		Part:    PartShardValue(index),
		Data:    payload,
	}
	if requiresChecksum(command) {
		m.Checksum = Checksum(payload)
	}
	return m
}

// Fragment splits payload into Init + Shard messages of at most
// MaxPayload bytes each, satisfying property 3 (fragment-then-reassemble
// round trips exactly).
func Fragment(id MessageID, command Command, public bool, payload []byte) []*Message {
	if len(payload) <= MaxPayload {
		return []*Message{NewSingle(id, command, payload, public)}
	}

	count := (len(payload) + MaxPayload - 1) / MaxPayload
	totalChecksum := Checksum(payload)

	msgs := make([]*Message, 0, count+1)
	msgs = append(msgs, &Message{
		ID:      id,
		Public:  public,
		Command: command,
		Part:    PartInitValue(totalChecksum, uint64(count)),
	})

	for i := 0; i < count; i++ {
		start := i * MaxPayload
		end := start + MaxPayload
		if end > len(payload) {
			end = len(payload)
		}
		msgs = append(msgs, NewShard(id, command, public, uint64(i), payload[start:end]))
	}

	return msgs
}

// AskRangeIndex decodes the 4-byte big-endian index payload some legacy
// AskToRepeat datagrams still carry when id==0 (Greeting re-request).
func AskRangeIndex(data []byte) (uint32, bool) {
	if len(data) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data[:4]), true
}
