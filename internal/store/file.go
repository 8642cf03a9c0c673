package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// File keeps all session records in a single JSON file, rewritten on every
// save through an atomic rename. This mirrors the flat session_state.json
// layout small deployments expect.
type File struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
}

// NewFile loads (or creates) a file-backed store at path.
func NewFile(path string) (*File, error) {
	f := &File{
		path:    path,
		records: make(map[string]Record),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, errors.Wrap(err, "read session state file")
	}
	if len(data) > 0 {
		if err := sonic.Unmarshal(data, &f.records); err != nil {
			return nil, errors.Wrap(err, "parse session state file").With("path", path)
		}
	}
	return f, nil
}

func (f *File) Load(name string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[name]
	return rec, ok, nil
}

func (f *File) Save(name string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[name] = rec
	return f.writeLocked()
}

func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked()
}

func (f *File) Close() error {
	return f.Flush()
}

func (f *File) writeLocked() error {
	data, err := sonic.Marshal(f.records)
	if err != nil {
		return errors.Wrap(err, "marshal session state")
	}
	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(err, "create state dir")
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write session state")
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, "replace session state")
	}
	return nil
}
