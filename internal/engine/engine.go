package engine

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/plumbrhq/plumbr/internal/logger"
	"github.com/plumbrhq/plumbr/internal/patterns"
)

// Version is the engine version string.
const Version = "1.0.0"

// Config controls engine construction.
type Config struct {
	PatternFile string   // optional custom rule file
	PatternDir  string   // optional directory of rule files
	Compliance  []string // optional compliance profiles filtering built-ins
	NumThreads  int      // worker count for multi-line input, 0 = GOMAXPROCS
	Quiet       bool     // suppress pattern-load warnings
	NoDefaults  bool     // skip the built-in rules
}

// Engine is one redaction instance: an immutable compiled rule set plus
// cumulative counters. All methods are safe for concurrent use until Close;
// callers must not race Close with in-flight calls.
type Engine struct {
	set      *patterns.Set
	rules    []patterns.Rule
	threads  int
	logger   *logger.Logger
	stats    counters
	released atomic.Bool
}

// New builds an engine from cfg. Built-in rules always load unless
// NoDefaults is set; file and directory rules merge on top, overriding by
// name. An unreadable named source fails construction.
func New(cfg Config, log *logger.Logger) (*Engine, error) {
	if log == nil {
		log = logger.NewNop()
	}

	loadLog := log.WithComponent("patterns")
	if cfg.Quiet {
		loadLog = loadLog.Quiet()
	}

	set, err := patterns.Build(patterns.LoadOptions{
		File:       cfg.PatternFile,
		Dir:        cfg.PatternDir,
		Compliance: cfg.Compliance,
		NoDefaults: cfg.NoDefaults,
	}, loadLog)
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern set: %w", err)
	}

	threads := cfg.NumThreads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	e := &Engine{
		set:     set,
		rules:   set.Rules(),
		threads: threads,
		logger:  log.WithComponent("engine"),
	}

	e.logger.Info("Redaction engine initialized",
		zap.Int("patterns", set.Len()),
		zap.Int("threads", threads),
	)
	return e, nil
}

// Redact redacts one text. Empty input returns empty without touching the
// counters. Input containing newlines behaves exactly like RedactBulk.
func (e *Engine) Redact(text string) (string, error) {
	if e.released.Load() {
		return "", ErrReleased
	}
	if text == "" {
		return "", nil
	}
	out, _ := e.redactText(text)
	return out, nil
}

// RedactBulk redacts a newline-joined buffer: split, redact each line,
// rejoin. Line count and order are preserved, a trailing newline survives,
// and markers never span lines.
func (e *Engine) RedactBulk(text string) (string, error) {
	if e.released.Load() {
		return "", ErrReleased
	}
	if text == "" {
		return "", nil
	}
	out, _ := e.redactText(text)
	return out, nil
}

// RedactWithReport behaves like Redact but also returns the counters for
// this one call, for callers that report per-request figures.
func (e *Engine) RedactWithReport(text string) (string, Report, error) {
	if e.released.Load() {
		return "", Report{}, ErrReleased
	}
	if text == "" {
		return "", Report{}, nil
	}
	out, d := e.redactText(text)
	return out, Report{
		LinesProcessed:  d.lines,
		LinesModified:   d.modified,
		PatternsMatched: d.matched,
	}, nil
}

// RedactLines redacts a slice of lines element-wise, preserving order. The
// result equals calling Redact on each line individually, whatever the
// thread count.
func (e *Engine) RedactLines(lines []string) ([]string, error) {
	if e.released.Load() {
		return nil, ErrReleased
	}
	if len(lines) == 0 {
		return []string{}, nil
	}

	start := time.Now()
	out := make([]string, len(lines))
	d := redactSlice(lines, out, e.rules, e.threads)

	bytes := len(lines) - 1 // bytes of the newline-joined equivalent
	for _, l := range lines {
		bytes += len(l)
	}

	e.stats.apply(d)
	e.stats.addBytes(bytes)
	e.stats.addElapsed(time.Since(start))
	return out, nil
}

// redactText is the shared path behind Redact and RedactBulk. The empty
// element after a trailing newline rides along for the rejoin but is not
// counted as a processed line.
func (e *Engine) redactText(text string) (string, delta) {
	start := time.Now()

	lines := strings.Split(text, "\n")
	counted := len(lines)
	if strings.HasSuffix(text, "\n") {
		counted--
	}

	out := make([]string, len(lines))
	for i := counted; i < len(lines); i++ {
		out[i] = lines[i]
	}
	d := redactSlice(lines[:counted], out[:counted], e.rules, e.threads)

	e.stats.apply(d)
	e.stats.addBytes(len(text))
	e.stats.addElapsed(time.Since(start))
	return strings.Join(out, "\n"), d
}

// PatternCount returns the number of active rules.
func (e *Engine) PatternCount() (int, error) {
	if e.released.Load() {
		return 0, ErrReleased
	}
	return e.set.Len(), nil
}

// PatternNames returns the active rule names in priority order.
func (e *Engine) PatternNames() ([]string, error) {
	if e.released.Load() {
		return nil, ErrReleased
	}
	return e.set.Names(), nil
}

// Rules exposes the active rules for reporting. Callers must not modify the
// returned slice.
func (e *Engine) Rules() ([]patterns.Rule, error) {
	if e.released.Load() {
		return nil, ErrReleased
	}
	return e.rules, nil
}

// Stats returns a snapshot of the cumulative counters.
func (e *Engine) Stats() (Stats, error) {
	if e.released.Load() {
		return Stats{}, ErrReleased
	}
	return e.stats.snapshot(), nil
}

// Close releases the engine. Every later call, Close included, returns
// ErrReleased.
func (e *Engine) Close() error {
	if e.released.Swap(true) {
		return ErrReleased
	}

	final := e.stats.snapshot()
	e.logger.Debug("Redaction engine released",
		zap.Uint64("lines_processed", final.LinesProcessed),
		zap.Uint64("lines_modified", final.LinesModified),
		zap.Uint64("patterns_matched", final.PatternsMatched),
		zap.Uint64("bytes_processed", final.BytesProcessed),
	)
	return nil
}
