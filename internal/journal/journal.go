/*
Journal appends every wire message to rotating segment files for audit and
incident replay, and keeps a bounded in-memory tail for inspection.

# Module
  - Journal: async segment-file writer with a recent-message ring
  - ReadSegment: segment parsing for tooling and replay

# Source
  - raw inbound and outbound messages from every session

# Produce
  - JSON-line segment files under the configured directory

# Sharded
  - one journal per engine, shared by all sessions
*/
package journal

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/fix"
	"main/internal/schema"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

var (
	ErrClosed         = errors.New("journal closed")
	ErrNotStarted     = errors.New("journal not started")
	ErrAlreadyStarted = errors.New("journal already started")
)

// Entry is one journaled wire message. Raw carries the frame with field
// separators rewritten to pipes so segments stay grep-able.
type Entry struct {
	At      time.Time `json:"at"`
	Session string    `json:"session"`
	Dir     string    `json:"dir"`
	MsgType string    `json:"msg_type"`
	SeqNum  uint64    `json:"seq_num"`
	Raw     string    `json:"raw"`
}

// Journal records wire traffic off the hot path: Record never blocks, a
// dedicated goroutine does the file IO, and a full queue drops the entry
// and counts the loss.
type Journal struct {
	cfg Config
	ch  chan Entry
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
	dropped atomic.Uint64

	tailMu sync.Mutex
	tail   []Entry
	tailAt int
}

// New creates a journal and ensures the target directory exists.
func New(cfg Config) (*Journal, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}
	return &Journal{
		cfg:  cfg,
		ch:   make(chan Entry, cfg.QueueSize),
		tail: make([]Entry, 0, cfg.TailSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (j *Journal) Start(ctx context.Context) error {
	if atomic.LoadUint32(&j.closed) == 1 {
		return ErrClosed
	}
	if !atomic.CompareAndSwapUint32(&j.started, 0, 1) {
		return ErrAlreadyStarted
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.run(ctx)
	}()
	return nil
}

// Close stops the journal and flushes any buffered data. Closing a journal
// that never started fails with ErrNotStarted.
func (j *Journal) Close() error {
	if atomic.LoadUint32(&j.started) == 0 {
		atomic.StoreUint32(&j.closed, 1)
		return ErrNotStarted
	}
	if atomic.CompareAndSwapUint32(&j.closed, 0, 1) {
		close(j.ch)
	}
	j.wg.Wait()
	return j.Err()
}

// Err returns the first error observed by the writer, if any.
func (j *Journal) Err() error {
	if v := j.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Dropped returns how many entries were lost to a full queue.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Record enqueues one wire message. Never blocks: when the queue is full
// the entry is dropped and counted.
func (j *Journal) Record(session string, dir schema.Direction, msgType string, seqNum uint64, raw []byte) {
	if atomic.LoadUint32(&j.closed) != 0 || atomic.LoadUint32(&j.started) == 0 {
		j.dropped.Add(1)
		return
	}
	e := Entry{
		At:      time.Now().UTC(),
		Session: session,
		Dir:     dir.String(),
		MsgType: msgType,
		SeqNum:  seqNum,
		Raw:     strings.ReplaceAll(string(raw), string(rune(fix.SOH)), "|"),
	}
	j.pushTail(e)
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
	}
}

// Tail returns up to n of the most recent entries, oldest first.
func (j *Journal) Tail(n int) []Entry {
	j.tailMu.Lock()
	defer j.tailMu.Unlock()
	if n <= 0 || n > len(j.tail) {
		n = len(j.tail)
	}
	out := make([]Entry, 0, n)
	// tailAt points at the oldest entry once the ring has wrapped.
	start := 0
	if len(j.tail) == cap(j.tail) {
		start = j.tailAt
	}
	for i := len(j.tail) - n; i < len(j.tail); i++ {
		out = append(out, j.tail[(start+i)%len(j.tail)])
	}
	return out
}

func (j *Journal) pushTail(e Entry) {
	if cap(j.tail) == 0 {
		return
	}
	j.tailMu.Lock()
	if len(j.tail) < cap(j.tail) {
		j.tail = append(j.tail, e)
	} else {
		j.tail[j.tailAt] = e
		j.tailAt = (j.tailAt + 1) % len(j.tail)
	}
	j.tailMu.Unlock()
}

func (j *Journal) run(ctx context.Context) {
	var (
		seg    *segment
		segID  uint64
		flushC <-chan time.Time
		syncC  <-chan time.Time
	)
	if j.cfg.FlushInterval > 0 {
		t := time.NewTicker(j.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if j.cfg.SyncInterval > 0 {
		t := time.NewTicker(j.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}
	defer func() {
		if err := j.closeSegment(seg); err != nil {
			j.setErr(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			j.drain(&seg, &segID)
			return
		case e, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.write(&seg, &segID, e); err != nil {
				j.setErr(err)
				return
			}
		case <-flushC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					j.setErr(err)
					return
				}
			}
		case <-syncC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					j.setErr(err)
					return
				}
				if err := seg.file.Sync(); err != nil {
					j.setErr(err)
					return
				}
			}
		}
	}
}

func (j *Journal) drain(seg **segment, segID *uint64) {
	for {
		select {
		case e, ok := <-j.ch:
			if !ok {
				return
			}
			if err := j.write(seg, segID, e); err != nil {
				j.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (j *Journal) write(seg **segment, segID *uint64, e Entry) error {
	line, err := sonic.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal journal entry")
	}
	now := time.Now().UTC()
	if j.shouldRotate(*seg, now, int64(len(line))+1) {
		if err := j.closeSegment(*seg); err != nil {
			return err
		}
		opened, err := j.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}
	if _, err := (*seg).buf.Write(line); err != nil {
		return err
	}
	if err := (*seg).buf.WriteByte('\n'); err != nil {
		return err
	}
	(*seg).size += int64(len(line)) + 1
	return nil
}

func (j *Journal) shouldRotate(seg *segment, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if j.cfg.SegmentMaxBytes > 0 && seg.size+nextSize > j.cfg.SegmentMaxBytes {
		return true
	}
	if j.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= j.cfg.SegmentMaxDuration {
		return true
	}
	return false
}

func (j *Journal) openSegment(segID *uint64, now time.Time) (*segment, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID = *segID + 1
		name := j.cfg.FilePrefix + "-" + ts + "-" + pad6(*segID) + ".log"
		path := filepath.Join(j.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, errors.Wrap(err, "open journal segment")
		}
		return &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, j.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func (j *Journal) closeSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (j *Journal) setErr(err error) {
	if err == nil || j.err.Load() != nil {
		return
	}
	j.err.Store(err)
}

func pad6(n uint64) string {
	s := strconv.FormatUint(n, 10)
	for len(s) < 6 {
		s = "0" + s
	}
	return s
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
