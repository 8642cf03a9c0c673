package exception

import "errors"

var (
	ErrUnknownSession   = errors.New("session: unknown session name")
	ErrSessionStopped   = errors.New("session: session stopped")
	ErrChecksumMismatch = errors.New("fix: checksum mismatch")
	ErrMalformedMessage = errors.New("fix: missing mandatory field")
	ErrSequencePersist  = errors.New("session: sequence persistence failed")
)
