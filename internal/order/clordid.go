package order

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDGen issues client order ids unique within one engine run: a prefix, a
// UTC timestamp, and a process-wide counter.
type IDGen struct {
	prefix  string
	counter atomic.Uint64
}

func NewIDGen(prefix string) *IDGen {
	if prefix == "" {
		prefix = "ord"
	}
	return &IDGen{prefix: prefix}
}

func (g *IDGen) Next() string {
	n := g.counter.Add(1)
	return g.prefix + "-" + time.Now().UTC().Format("20060102150405") + "-" + strconv.FormatUint(n, 10)
}
