package fix

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"main/pkg/exception"
)

type stubSequencer struct {
	next uint64
	err  error
}

func (s *stubSequencer) NextOutbound() (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.next++
	return s.next, nil
}

func newTestCodec(seq *stubSequencer) *Codec {
	c := NewCodec("FIX.4.2", "DESK", "BROKER", seq)
	c.SetClock(func() time.Time {
		return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	})
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	seq := &stubSequencer{}
	c := newTestCodec(seq)

	body := Fields{}.
		Add(TagClOrdID, "ORD-1").
		Add(TagSymbol, "BTC-USD").
		Add(TagSide, "1").
		Add(TagOrderQty, "100")
	raw, seqNum, err := c.Encode(MsgTypeNewOrderSingle, body)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if seqNum != 1 {
		t.Fatalf("seq mismatch: got %d want 1", seqNum)
	}

	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != MsgTypeNewOrderSingle {
		t.Fatalf("type mismatch: got %q", msg.Type)
	}
	if msg.SeqNum != 1 {
		t.Fatalf("decoded seq mismatch: got %d", msg.SeqNum)
	}
	if got := msg.String(TagSenderCompID); got != "DESK" {
		t.Fatalf("sender mismatch: got %q", got)
	}
	if got := msg.String(TagSymbol); got != "BTC-USD" {
		t.Fatalf("symbol mismatch: got %q", got)
	}
	if !msg.Has(TagTransactTime) {
		t.Fatal("application message missing transact time")
	}
}

func TestEncodeAdminOmitsTransactTime(t *testing.T) {
	c := newTestCodec(&stubSequencer{})
	raw, _, err := c.Encode(MsgTypeHeartbeat, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Has(TagTransactTime) {
		t.Fatal("admin message carries transact time")
	}
}

func TestEncodeSequenceMonotonic(t *testing.T) {
	seq := &stubSequencer{}
	c := newTestCodec(seq)
	for want := uint64(1); want <= 5; want++ {
		_, got, err := c.Encode(MsgTypeHeartbeat, nil)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if got != want {
			t.Fatalf("seq mismatch: got %d want %d", got, want)
		}
	}
}

func TestEncodeSequencerFailure(t *testing.T) {
	seq := &stubSequencer{err: exception.ErrSequencePersist}
	c := newTestCodec(seq)
	if _, _, err := c.Encode(MsgTypeHeartbeat, nil); !errors.Is(err, exception.ErrSequencePersist) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestEncodeWithSeqGapFill(t *testing.T) {
	c := newTestCodec(&stubSequencer{})
	body := Fields{}.Add(TagGapFillFlag, "Y").Add(TagNewSeqNo, "12")
	raw := c.EncodeWithSeq(MsgTypeSequenceReset, body, 7, true)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.SeqNum != 7 {
		t.Fatalf("seq mismatch: got %d want 7", msg.SeqNum)
	}
	if !msg.PossDup() {
		t.Fatal("gap fill missing PossDupFlag")
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	c := newTestCodec(&stubSequencer{})
	raw, _, err := c.Encode(MsgTypeHeartbeat, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Corrupt a body byte without touching the trailer.
	corrupted := bytes.Replace(raw, []byte("DESK"), []byte("DUSK"), 1)
	if _, err := Decode(corrupted); !errors.Is(err, exception.ErrChecksumMismatch) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestDecodeMissingMandatoryField(t *testing.T) {
	raw := []byte("8=FIX.4.2\x019=12\x0149=DESK\x0110=000\x01")
	if _, err := Decode(raw); !errors.Is(err, exception.ErrMalformedMessage) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestExtractFrame(t *testing.T) {
	c := newTestCodec(&stubSequencer{})
	first, _, err := c.Encode(MsgTypeHeartbeat, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, _, err := c.Encode(MsgTypeTestRequest, Fields{}.Add(TagTestReqID, "T1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	buf := append(append([]byte("junk"), first...), second...)

	frame, rest := ExtractFrame(buf)
	if !bytes.Equal(frame, first) {
		t.Fatalf("first frame mismatch:\ngot  %q\nwant %q", frame, first)
	}
	frame, rest = ExtractFrame(rest)
	if !bytes.Equal(frame, second) {
		t.Fatalf("second frame mismatch:\ngot  %q\nwant %q", frame, second)
	}
	if frame, _ = ExtractFrame(rest); frame != nil {
		t.Fatalf("unexpected extra frame: %q", frame)
	}
}

func TestExtractFramePartial(t *testing.T) {
	c := newTestCodec(&stubSequencer{})
	raw, _, err := c.Encode(MsgTypeHeartbeat, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for cut := 1; cut < len(raw); cut++ {
		if frame, _ := ExtractFrame(raw[:cut]); frame != nil {
			t.Fatalf("incomplete buffer at %d produced a frame", cut)
		}
	}
}
