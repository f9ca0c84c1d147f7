package wire

import (
	"bytes"
	"testing"
)

func TestMessage_RoundTrip(t *testing.T) {
	cases := []*Message{
		NewEnter(42, "alice"),
		NewGreeting(7, "bob"),
		NewExit(9),
		NewSeen(100, true),
		NewAbort(5),
		NewAskToRepeat(3, 2, 8),
		NewSingle(1, Text, []byte("hello"), false),
		NewInit(12, File, false, 0xBEEF, 4, []byte("report.pdf")),
		NewShard(12, File, false, 2, []byte("chunk")),
	}

	for _, want := range cases {
		b, err := want.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal %s: %v", want.Command, err)
		}

		got, err := Decode(b)
		if err != nil {
			t.Fatalf("decode %s: %v", want.Command, err)
		}

		if got.ID != want.ID || got.Public != want.Public || got.Command != want.Command ||
			got.Part.Kind != want.Part.Kind || got.Checksum != want.Checksum {
			t.Fatalf("round trip mismatch:\n got: %+v\nwant: %+v", got, want)
		}
		if !bytes.Equal(got.Data, want.Data) {
			t.Fatalf("data mismatch: got %q want %q", got.Data, want.Data)
		}
		if got.Part != want.Part {
			t.Fatalf("part mismatch: got %+v want %+v", got.Part, want.Part)
		}
	}
}

func TestMessage_TruncatedBufferNeverPanics(t *testing.T) {
	full, err := NewInit(1, File, false, 1, 3, []byte("x")).MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for n := 0; n <= len(full); n++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Decode panicked at truncation length %d: %v", n, r)
				}
			}()
			_, _ = Decode(full[:n])
		}()
	}
}

func TestFragment_ReassemblesExactly(t *testing.T) {
	payload := make([]byte, 3*MaxPayload+7)
	for i := range payload {
		payload[i] = byte(i)
	}

	msgs := Fragment(5, Text, true, payload)
	if msgs[0].Part.Kind != PartInit {
		t.Fatalf("expected first message to be Init, got %s", msgs[0].Part.Kind)
	}

	var reassembled []byte
	for _, m := range msgs[1:] {
		if m.Part.Kind != PartShard {
			t.Fatalf("expected Shard, got %s", m.Part.Kind)
		}
		reassembled = append(reassembled, m.Data...)
	}

	if !bytes.Equal(reassembled, payload) {
		t.Fatalf("fragment/reassemble mismatch: got %d bytes, want %d", len(reassembled), len(payload))
	}
}

func TestFragment_SmallPayloadStaysSingle(t *testing.T) {
	msgs := Fragment(1, Text, false, []byte("short"))
	if len(msgs) != 1 || msgs[0].Part.Kind != PartSingle {
		t.Fatalf("expected one Single message, got %d messages", len(msgs))
	}
}

func TestVerifyPayload(t *testing.T) {
	m := NewSingle(1, Text, []byte("payload"), false)
	if !VerifyPayload(m) {
		t.Fatalf("expected valid checksum to verify")
	}

	m.Data = []byte("tampered")
	if VerifyPayload(m) {
		t.Fatalf("expected tampered payload to fail verification")
	}

	ctrl := NewSingle(1, Seen, nil, false)
	ctrl.Data = []byte("anything")
	if !VerifyPayload(ctrl) {
		t.Fatalf("control commands should always verify")
	}
}
