package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	s := NewMemory()
	testRoundTrip(t, s)
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_state.json")
	s, err := NewFile(path)
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	testRoundTrip(t, s)
}

func TestFileSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session_state.json")
	s, err := NewFile(path)
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	want := Record{OutboundSeq: 42, InboundSeq: 17, LastLogon: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	if err := s.Save("uat", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewFile(path)
	if err != nil {
		t.Fatalf("reopen file store: %v", err)
	}
	got, ok, err := reloaded.Load("uat")
	if err != nil || !ok {
		t.Fatalf("load after reload: ok=%v err=%v", ok, err)
	}
	if got.OutboundSeq != want.OutboundSeq || got.InboundSeq != want.InboundSeq {
		t.Fatalf("record mismatch: got %+v want %+v", got, want)
	}
	if !got.LastLogon.Equal(want.LastLogon) {
		t.Fatalf("last logon mismatch: got %v want %v", got.LastLogon, want.LastLogon)
	}
}

func TestPebbleSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebble(dir)
	if err != nil {
		t.Fatalf("open pebble store: %v", err)
	}
	want := Record{OutboundSeq: 10, InboundSeq: 5}
	if err := s.Save("prod", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewPebble(dir)
	if err != nil {
		t.Fatalf("reopen pebble store: %v", err)
	}
	defer reloaded.Close()
	got, ok, err := reloaded.Load("prod")
	if err != nil || !ok {
		t.Fatalf("load after reload: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("record mismatch: got %+v want %+v", got, want)
	}
}

func testRoundTrip(t *testing.T, s Store) {
	t.Helper()
	if _, ok, err := s.Load("missing"); ok || err != nil {
		t.Fatalf("missing record: ok=%v err=%v", ok, err)
	}
	want := Record{OutboundSeq: 3, InboundSeq: 8}
	if err := s.Save("a", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := s.Load("a")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.OutboundSeq != want.OutboundSeq || got.InboundSeq != want.InboundSeq {
		t.Fatalf("record mismatch: got %+v want %+v", got, want)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
