// internal/logger/ring.go
package logger

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is one captured log line.
type Entry struct {
	Time    time.Time
	Level   zapcore.Level
	Logger  string
	Message string
}

// Ring keeps the most recent log lines in memory for the status screen.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	total   uint64
}

// NewRing creates a ring holding up to size entries.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 100
	}
	return &Ring{entries: make([]Entry, size)}
}

func (r *Ring) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Recent returns up to limit entries, oldest first.
func (r *Ring) Recent(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.entries)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	start := r.next - limit
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < limit; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}

// Total returns the number of entries ever written.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Core returns a zapcore.Core that writes into the ring at or above level.
func (r *Ring) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &ringCore{LevelEnabler: level, ring: r}
}

type ringCore struct {
	zapcore.LevelEnabler
	ring *Ring
}

func (c *ringCore) With([]zapcore.Field) zapcore.Core { return c }

func (c *ringCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *ringCore) Write(entry zapcore.Entry, _ []zapcore.Field) error {
	c.ring.add(Entry{Time: entry.Time, Level: entry.Level, Logger: entry.LoggerName, Message: entry.Message})
	return nil
}

func (c *ringCore) Sync() error { return nil }
