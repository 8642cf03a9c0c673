package journal

import (
	"time"

	"github.com/yanun0323/errors"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultQueueSize             = 4096
	defaultBufferSize            = 64 * 1024
	defaultFilePrefix            = "fixlog"
	defaultTailSize              = 1024
)

var defaultSegmentMaxDuration = time.Hour

// Config controls journal writer behavior.
type Config struct {
	Dir                string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FilePrefix         string
	FlushInterval      time.Duration
	SyncInterval       time.Duration
	TailSize           int
}

// DefaultConfig returns a baseline configuration for the journal.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
		FlushInterval:      time.Second,
		TailSize:           defaultTailSize,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.SegmentMaxDuration == 0 {
		c.SegmentMaxDuration = defaultSegmentMaxDuration
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.TailSize == 0 {
		c.TailSize = defaultTailSize
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Dir == "":
		return errors.New("invalid journal config: Dir is empty")
	case c.SegmentMaxBytes <= 0:
		return errors.New("invalid journal config: SegmentMaxBytes must be > 0")
	case c.QueueSize <= 0:
		return errors.New("invalid journal config: QueueSize must be > 0")
	case c.BufferSize <= 0:
		return errors.New("invalid journal config: BufferSize must be > 0")
	case c.FlushInterval < 0:
		return errors.New("invalid journal config: FlushInterval must be >= 0")
	case c.SyncInterval < 0:
		return errors.New("invalid journal config: SyncInterval must be >= 0")
	case c.TailSize < 0:
		return errors.New("invalid journal config: TailSize must be >= 0")
	default:
		return nil
	}
}
