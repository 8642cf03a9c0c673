package store

import (
	"github.com/bytedance/sonic"
	"github.com/cockroachdb/pebble"
	"github.com/yanun0323/errors"
)

// Pebble stores session records in an embedded pebble database. Every Save
// uses a synchronous write so a crash never loses an acknowledged sequence
// increment.
type Pebble struct {
	db *pebble.DB
}

// NewPebble opens (or creates) a pebble-backed store at dir.
func NewPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "open pebble store").With("dir", dir)
	}
	return &Pebble{db: db}, nil
}

// keys: s:<session-name>
func sessionKey(name string) []byte {
	return append([]byte("s:"), name...)
}

func (p *Pebble) Load(name string) (Record, bool, error) {
	val, closer, err := p.db.Get(sessionKey(name))
	if err != nil {
		if err == pebble.ErrNotFound {
			return Record{}, false, nil
		}
		return Record{}, false, errors.Wrap(err, "load session record").With("session", name)
	}
	defer closer.Close()

	var rec Record
	if err := sonic.Unmarshal(val, &rec); err != nil {
		return Record{}, false, errors.Wrap(err, "decode session record").With("session", name)
	}
	return rec, true, nil
}

func (p *Pebble) Save(name string, rec Record) error {
	val, err := sonic.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode session record").With("session", name)
	}
	if err := p.db.Set(sessionKey(name), val, pebble.Sync); err != nil {
		return errors.Wrap(err, "save session record").With("session", name)
	}
	return nil
}

func (p *Pebble) Flush() error {
	return p.db.Flush()
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
