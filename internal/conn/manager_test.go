package conn

import (
	"net"
	"testing"
	"time"

	"main/internal/fix"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

type pipeDialer struct {
	conns chan net.Conn
}

func (d *pipeDialer) Dial(string) (net.Conn, error) {
	select {
	case c := <-d.conns:
		return c, nil
	default:
		return nil, errors.New("no pipe available")
	}
}

type captureHandler struct {
	msgs       chan *fix.Message
	decodeErrs chan error
	transport  chan error
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{
		msgs:       make(chan *fix.Message, 16),
		decodeErrs: make(chan error, 16),
		transport:  make(chan error, 16),
	}
}

func (h *captureHandler) OnMessage(msg *fix.Message)          { h.msgs <- msg }
func (h *captureHandler) OnDecodeError(_ []byte, err error)   { h.decodeErrs <- err }
func (h *captureHandler) OnTransportError(err error)          { h.transport <- err }

type fixedSeq struct{ n uint64 }

func (s *fixedSeq) NextOutbound() (uint64, error) {
	s.n++
	return s.n, nil
}

func testFrames(t *testing.T, count int) [][]byte {
	t.Helper()
	codec := fix.NewCodec("FIX.4.4", "PEER", "DESK", &fixedSeq{})
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		raw, _, err := codec.Encode(fix.MsgTypeHeartbeat, nil)
		if err != nil {
			t.Fatalf("encode frame: %v", err)
		}
		frames = append(frames, raw)
	}
	return frames
}

func newTestManager(t *testing.T, h Handler) (*Manager, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	d := &pipeDialer{conns: make(chan net.Conn, 1)}
	d.conns <- local
	m := NewManager("test:0", d, h)
	if err := m.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	return m, remote
}

func TestManagerDeliversFramesAcrossSplitReads(t *testing.T) {
	h := newCaptureHandler()
	m, remote := newTestManager(t, h)
	defer m.Close()

	frames := testFrames(t, 2)
	wire := append(append([]byte{}, frames[0]...), frames[1]...)

	// Feed the stream in awkward chunks so frames straddle reads.
	go func() {
		for i := 0; i < len(wire); i += 7 {
			end := i + 7
			if end > len(wire) {
				end = len(wire)
			}
			if _, err := remote.Write(wire[i:end]); err != nil {
				return
			}
		}
	}()

	for want := uint64(1); want <= 2; want++ {
		select {
		case msg := <-h.msgs:
			if msg.SeqNum != want {
				t.Fatalf("seq = %d, want %d", msg.SeqNum, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", want)
		}
	}
}

func TestManagerOpenWhileActive(t *testing.T) {
	h := newCaptureHandler()
	m, remote := newTestManager(t, h)
	defer m.Close()
	defer remote.Close()

	if err := m.Open(); !errors.Is(err, exception.ErrAlreadyActive) {
		t.Fatalf("second open = %v, want ErrAlreadyActive", err)
	}
}

func TestManagerReportsPeerClose(t *testing.T) {
	h := newCaptureHandler()
	m, remote := newTestManager(t, h)
	defer m.Close()

	remote.Close()

	select {
	case err := <-h.transport:
		if !errors.Is(err, exception.ErrConnectionClosed) {
			t.Fatalf("transport error = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transport error")
	}

	if m.Active() {
		t.Fatal("manager still active after peer close")
	}
}

func TestManagerWriteTimesOutOnStalledPeer(t *testing.T) {
	h := newCaptureHandler()
	local, remote := net.Pipe()
	d := &pipeDialer{conns: make(chan net.Conn, 1)}
	d.conns <- local
	m := NewManager("test:0", d, h)
	m.WriteTimeout = 50 * time.Millisecond
	if err := m.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()
	defer remote.Close()

	// The peer never reads, so the pipe write can only end via the deadline.
	start := time.Now()
	err := m.Write(testFrames(t, 1)[0])
	if !errors.Is(err, exception.ErrWriteFailed) {
		t.Fatalf("write to stalled peer = %v, want ErrWriteFailed", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("write blocked %s before failing", elapsed)
	}
}

func TestManagerCloseIsQuietAndIdempotent(t *testing.T) {
	h := newCaptureHandler()
	m, remote := newTestManager(t, h)
	defer remote.Close()

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case err := <-h.transport:
		t.Fatalf("local close reported as transport error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.Write([]byte("8=FIX")); !errors.Is(err, exception.ErrNotConnected) {
		t.Fatalf("write after close = %v, want ErrNotConnected", err)
	}
}
