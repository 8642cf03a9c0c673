/*
Store persists per-session sequencing state across process restarts.

# Module
  - memory: volatile store for tests and throwaway runs
  - file: single JSON snapshot, the classic session_state layout
  - pebble: embedded KV store, synchronous writes
  - postgres: shared store for multi-host deployments

# Source
  - sequence increments from session state machines

# Produce
  - reloaded records at session construction
*/
package store

import "time"

// Record is the durable state of one session. OutboundSeq is the next
// sequence number to send, InboundSeq the next expected. Records are written
// synchronously on every increment; a session never sends a sequence number
// that has not been persisted first.
type Record struct {
	OutboundSeq uint64    `json:"outboundSeq"`
	InboundSeq  uint64    `json:"inboundSeq"`
	LastLogon   time.Time `json:"lastLogon"`
}

// Store is the abstract key-value contract for session records, keyed by
// session name. Save must be durable before it returns.
type Store interface {
	Load(name string) (Record, bool, error)
	Save(name string, rec Record) error
	Flush() error
	Close() error
}
