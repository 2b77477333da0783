package reassembly

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ccie14019/shadow-ai-signatures/internal/capture"
	"github.com/ccie14019/shadow-ai-signatures/internal/wiretest"
)

var (
	clientKey = capture.FlowKey{SrcAddr: "10.0.0.5", DstAddr: "93.184.216.34", SrcPort: 52044, DstPort: 443}
	otherKey  = capture.FlowKey{SrcAddr: "10.0.0.6", DstAddr: "93.184.216.34", SrcPort: 52045, DstPort: 443}
)

func helloMessage() []byte {
	return wiretest.HelloSpec{
		Ciphers: []uint16{0x1301, 0x1302},
		Extensions: []wiretest.Extension{
			wiretest.SNI("api.example.com"),
			wiretest.SupportedVersions(0x0304),
		},
	}.Message()
}

func frames(key capture.FlowKey, payloads ...[]byte) []capture.Frame {
	out := make([]capture.Frame, len(payloads))
	for i, p := range payloads {
		out[i] = capture.Frame{Seq: uint64(i), Key: key, Payload: p}
	}
	return out
}

func feedAll(t *testing.T, r *Reassembler, fs []capture.Frame) *Handshake {
	t.Helper()
	var hs *Handshake
	for _, f := range fs {
		got, err := r.Feed(f)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if got != nil {
			if hs != nil {
				t.Fatal("handshake produced twice for one session")
			}
			hs = got
		}
	}
	return hs
}

func TestFeed_SingleRecord(t *testing.T) {
	msg := helloMessage()
	r := New(DefaultConfig())

	hs := feedAll(t, r, frames(clientKey, wiretest.Record(22, msg)))
	if hs == nil {
		t.Fatal("no handshake produced")
	}
	if hs.Key != clientKey {
		t.Errorf("Key = %v, want %v", hs.Key, clientKey)
	}
	if !bytes.Equal(hs.Raw, msg) {
		t.Error("reassembled bytes differ from original message")
	}
}

func TestFeed_RecordSplitAcrossFrames(t *testing.T) {
	msg := helloMessage()
	record := wiretest.Record(22, msg)
	r := New(DefaultConfig())

	hs := feedAll(t, r, frames(clientKey, record[:7], record[7:20], record[20:]))
	if hs == nil {
		t.Fatal("no handshake produced")
	}
	if !bytes.Equal(hs.Raw, msg) {
		t.Error("reassembled bytes differ from original message")
	}
}

func TestFeed_MessageSplitAcrossRecords(t *testing.T) {
	// Record boundaries are transport artifacts; any fragmentation of
	// the same byte stream must produce identical output.
	msg := helloMessage()
	whole := feedAll(t, New(DefaultConfig()), frames(clientKey, wiretest.Record(22, msg)))

	for _, chunk := range []int{1, 7, 16, 64} {
		r := New(DefaultConfig())
		hs := feedAll(t, r, frames(clientKey, wiretest.HandshakeRecords(msg, chunk)))
		if hs == nil {
			t.Fatalf("chunk %d: no handshake produced", chunk)
		}
		if !bytes.Equal(hs.Raw, whole.Raw) {
			t.Errorf("chunk %d: reassembled bytes differ", chunk)
		}
	}
}

func TestFeed_SkipsNonHandshakeRecords(t *testing.T) {
	msg := helloMessage()
	alert := wiretest.Record(21, []byte{1, 0})
	r := New(DefaultConfig())

	hs := feedAll(t, r, frames(clientKey, alert, wiretest.Record(22, msg)))
	if hs == nil {
		t.Fatal("no handshake produced after skipping alert record")
	}
	if !bytes.Equal(hs.Raw, msg) {
		t.Error("reassembled bytes differ from original message")
	}

	// Same skip mid-message, between two handshake fragments.
	records := wiretest.HandshakeRecords(msg, 16)
	r = New(DefaultConfig())
	hs = feedAll(t, r, frames(clientKey, records[:21], alert, records[21:]))
	if hs == nil {
		t.Fatal("no handshake produced with alert between handshake records")
	}
	if !bytes.Equal(hs.Raw, msg) {
		t.Error("reassembled bytes differ with interleaved alert")
	}
}

func TestFeed_InterleavedSessions(t *testing.T) {
	msgA := helloMessage()
	msgB := wiretest.HelloSpec{
		Ciphers:    []uint16{0xc02b, 0xc02f},
		Extensions: []wiretest.Extension{wiretest.SNI("other.example.org")},
	}.Message()

	recA := wiretest.Record(22, msgA)
	recB := wiretest.Record(22, msgB)

	r := New(DefaultConfig())
	fs := []capture.Frame{
		{Seq: 0, Key: clientKey, Payload: recA[:10]},
		{Seq: 1, Key: otherKey, Payload: recB[:15]},
		{Seq: 2, Key: clientKey, Payload: recA[10:]},
		{Seq: 3, Key: otherKey, Payload: recB[15:]},
	}

	got := make(map[capture.FlowKey][]byte)
	for _, f := range fs {
		hs, err := r.Feed(f)
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		if hs != nil {
			got[hs.Key] = hs.Raw
		}
	}

	if !bytes.Equal(got[clientKey], msgA) {
		t.Error("session A bytes corrupted by interleaving")
	}
	if !bytes.Equal(got[otherKey], msgB) {
		t.Error("session B bytes corrupted by interleaving")
	}
}

func TestFeed_NotAHandshake(t *testing.T) {
	r := New(DefaultConfig())

	_, err := r.Feed(capture.Frame{Key: clientKey, Payload: []byte("GET / HTTP/1.1\r\n")})
	if !errors.Is(err, ErrNotAHandshake) {
		t.Fatalf("err = %v, want ErrNotAHandshake", err)
	}

	// The session is discarded, not retried.
	hs, err := r.Feed(capture.Frame{Key: clientKey, Payload: wiretest.Record(22, helloMessage())})
	if err != nil || hs != nil {
		t.Errorf("discarded session yielded (%v, %v), want (nil, nil)", hs, err)
	}
}

func TestFeed_ServerHelloRejected(t *testing.T) {
	msg := helloMessage()
	msg[0] = 2

	r := New(DefaultConfig())
	_, err := r.Feed(capture.Frame{Key: clientKey, Payload: wiretest.Record(22, msg)})
	if !errors.Is(err, ErrNotAHandshake) {
		t.Errorf("err = %v, want ErrNotAHandshake", err)
	}
}

func TestFeed_FirstHandshakePerFlowOnly(t *testing.T) {
	msg := helloMessage()
	r := New(DefaultConfig())

	if hs := feedAll(t, r, frames(clientKey, wiretest.Record(22, msg))); hs == nil {
		t.Fatal("no handshake produced")
	}

	hs, err := r.Feed(capture.Frame{Key: clientKey, Payload: wiretest.Record(22, msg)})
	if err != nil || hs != nil {
		t.Errorf("finished flow yielded (%v, %v), want (nil, nil)", hs, err)
	}
}

func TestFlush_IncompleteSession(t *testing.T) {
	record := wiretest.Record(22, helloMessage())
	r := New(DefaultConfig())

	if hs := feedAll(t, r, frames(clientKey, record[:12])); hs != nil {
		t.Fatal("truncated session produced a handshake")
	}

	errs := r.Flush()
	if len(errs) != 1 {
		t.Fatalf("Flush returned %d errors, want 1", len(errs))
	}
	if errs[0].Key != clientKey {
		t.Errorf("Key = %v, want %v", errs[0].Key, clientKey)
	}
	if !errors.Is(errs[0], ErrIncompleteSession) {
		t.Errorf("err = %v, want ErrIncompleteSession", errs[0])
	}
}

func TestSessionWindow_Eviction(t *testing.T) {
	record := wiretest.Record(22, helloMessage())
	r := New(Config{SessionWindow: 2})

	if _, err := r.Feed(capture.Frame{Seq: 0, Key: clientKey, Payload: record[:12]}); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	// Unrelated traffic ages the stalled session past its window.
	for i := 0; i < 4; i++ {
		if _, err := r.Feed(capture.Frame{Seq: uint64(i + 1), Key: otherKey, Payload: record[:3]}); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}

	errs := r.Flush()
	var found bool
	for _, e := range errs {
		if e.Key == clientKey && errors.Is(e, ErrIncompleteSession) {
			found = true
		}
	}
	if !found {
		t.Errorf("stalled session not reported as incomplete: %v", errs)
	}

	// The evicted flow does not resume.
	hs, err := r.Feed(capture.Frame{Seq: 9, Key: clientKey, Payload: record})
	if err != nil || hs != nil {
		t.Errorf("evicted session yielded (%v, %v), want (nil, nil)", hs, err)
	}
}
