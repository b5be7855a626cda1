package engine

import (
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of an engine's cumulative counters.
// Counters only grow; they reset only when the engine itself goes away.
type Stats struct {
	LinesProcessed  uint64  `json:"lines_processed"`
	LinesModified   uint64  `json:"lines_modified"`
	PatternsMatched uint64  `json:"patterns_matched"`
	BytesProcessed  uint64  `json:"bytes_processed"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
}

// Report carries the counters of a single redaction call, independent of
// the engine's cumulative stats.
type Report struct {
	LinesProcessed  uint64 `json:"lines_processed"`
	LinesModified   uint64 `json:"lines_modified"`
	PatternsMatched uint64 `json:"patterns_matched"`
}

// counters is the live atomic state behind Stats.
type counters struct {
	linesProcessed  atomic.Uint64
	linesModified   atomic.Uint64
	patternsMatched atomic.Uint64
	bytesProcessed  atomic.Uint64
	elapsedNanos    atomic.Int64
}

// delta accumulates per-line results inside one call before they are folded
// into the shared counters.
type delta struct {
	lines    uint64
	modified uint64
	matched  uint64
}

func (d *delta) merge(other delta) {
	d.lines += other.lines
	d.modified += other.modified
	d.matched += other.matched
}

func (c *counters) apply(d delta) {
	if d.lines > 0 {
		c.linesProcessed.Add(d.lines)
	}
	if d.modified > 0 {
		c.linesModified.Add(d.modified)
	}
	if d.matched > 0 {
		c.patternsMatched.Add(d.matched)
	}
}

func (c *counters) addBytes(n int) {
	c.bytesProcessed.Add(uint64(n))
}

func (c *counters) addElapsed(d time.Duration) {
	c.elapsedNanos.Add(int64(d))
}

func (c *counters) snapshot() Stats {
	return Stats{
		LinesProcessed:  c.linesProcessed.Load(),
		LinesModified:   c.linesModified.Load(),
		PatternsMatched: c.patternsMatched.Load(),
		BytesProcessed:  c.bytesProcessed.Load(),
		ElapsedSeconds:  float64(c.elapsedNanos.Load()) / float64(time.Second),
	}
}
