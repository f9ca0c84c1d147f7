package inbox

import (
	"bytes"
	"math/rand"
	"net/netip"
	"testing"

	"github.com/nilsray/peerlink/internal/wire"
	"github.com/nilsray/peerlink/pkg/bitfield"
)

var sender = netip.MustParseAddr("10.0.0.1")

func newPresentBitfield(count int, present map[int]bool) bitfield.Bitfield {
	bf := bitfield.New(count)
	for i, ok := range present {
		if ok {
			bf.Set(i)
		}
	}
	return bf
}

func buildShards(id wire.MessageID, payload []byte) (*wire.Message, []*wire.Message) {
	msgs := wire.Fragment(id, wire.Text, true, payload)
	return msgs[0], msgs[1:]
}

// Property 3/4: reassembly is order-independent and duplicate-tolerant.
func TestEntry_CombineReassemblesRegardlessOfOrder(t *testing.T) {
	payload := make([]byte, 250)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	init, shards := buildShards(1, payload)

	order := rand.Perm(len(shards))
	e := NewEntry(sender, init, nil)
	for _, i := range order {
		s := shards[i]
		e.Insert(s.Part.Index, s.Data, s.Checksum)
		// duplicate insert must be a no-op
		e.Insert(s.Part.Index, s.Data, s.Checksum)
	}

	got, result := e.Combine()
	if result != CombineOK {
		t.Fatalf("expected CombineOK, got %v", result)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

// S3: a dropped middle shard is reported as missing, then recovered.
func TestEntry_S3_MissingMiddleShardThenRecovered(t *testing.T) {
	payload := make([]byte, 250)
	init, shards := buildShards(1, payload)
	if len(shards) != 3 {
		t.Fatalf("expected 3 shards for a 250-byte payload, got %d", len(shards))
	}

	e := NewEntry(sender, init, nil)
	e.Insert(shards[0].Part.Index, shards[0].Data, shards[0].Checksum)
	e.Insert(shards[2].Part.Index, shards[2].Data, shards[2].Checksum)

	_, result := e.Combine()
	if result != CombineMissing {
		t.Fatalf("expected CombineMissing, got %v", result)
	}

	missed := e.MissedShards()
	if len(missed) != 1 || missed[0].Lo != 1 || missed[0].Hi != 1 {
		t.Fatalf("expected missing range {1,1}, got %+v", missed)
	}

	e.Insert(shards[1].Part.Index, shards[1].Data, shards[1].Checksum)
	got, result := e.Combine()
	if result != CombineOK {
		t.Fatalf("expected CombineOK after recovery, got %v", result)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("recovered payload mismatch")
	}
}

// Property 5: a bit-flipped shard is rejected and recoverable via re-ask.
func TestEntry_RejectsBadChecksumShard(t *testing.T) {
	payload := make([]byte, 150)
	for i := range payload {
		payload[i] = byte(i)
	}
	init, shards := buildShards(1, payload)

	e := NewEntry(sender, init, nil)
	bad := shards[0]
	corrupted := append([]byte(nil), bad.Data...)
	corrupted[0] ^= 0xFF

	isTerminal := e.Insert(bad.Part.Index, corrupted, bad.Checksum)
	if isTerminal {
		t.Fatalf("index 0 should never be terminal for a 2-shard message")
	}

	missed := e.MissedShards()
	if len(missed) != 1 || missed[0].Lo != 0 {
		t.Fatalf("expected shard 0 still missing after bad checksum, got %+v", missed)
	}

	e.Insert(bad.Part.Index, bad.Data, bad.Checksum)
	e.Insert(shards[1].Part.Index, shards[1].Data, shards[1].Checksum)
	got, result := e.Combine()
	if result != CombineOK || !bytes.Equal(got, payload) {
		t.Fatalf("expected recovery after resend, got result=%v", result)
	}
}

// S6: coalescing a gap equal to a neighboring range's length does NOT merge.
func TestEntry_S6_CoalescedReRequest(t *testing.T) {
	e := &Entry{shards: make([][]byte, 21), present: newPresentBitfield(21, map[int]bool{
		0: true, 1: true, 5: true, 6: true, 9: true, 10: true, 11: true,
		12: true, 13: true, 14: true, 15: true, 16: true, 17: true, 18: true, 19: true,
	})}

	missed := e.missedShardsLocked()
	want := []ShardRange{{Lo: 2, Hi: 4}, {Lo: 7, Hi: 8}, {Lo: 20, Hi: 20}}
	if len(missed) != len(want) {
		t.Fatalf("expected %d ranges, got %+v", len(want), missed)
	}
	for i := range want {
		if missed[i] != want[i] {
			t.Fatalf("range %d mismatch: got %+v want %+v", i, missed[i], want[i])
		}
	}
}
