package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a recorded anomaly line before
	// truncation. Raw records quoted in malformed-event details can be long.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent anomaly lines kept for the
	// exit summary.
	MaxBufferedLines = 100
)

// Anomaly kinds that are noisy enough to log only in verbose mode.
var quietKinds = map[string]bool{
	"unmatched_leave": true,
	"duplicate_join":  true,
}

// AnomalyLog records tolerated irregularities in the event stream: malformed
// records, leaves without a join, duplicate joins. It logs each one, keeps
// the most recent lines in a ring buffer and counts them by kind.
// Safe for concurrent use; the dashboard reads it while the run proceeds.
type AnomalyLog struct {
	logger  *slog.Logger
	verbose bool

	mu     sync.Mutex
	buffer []string
	bufIdx int
	counts map[string]int64
	total  int64
}

// NewAnomalyLog creates an anomaly log. In non-verbose mode the frequent
// presence anomalies are counted but not logged.
func NewAnomalyLog(logger *slog.Logger, verbose bool) *AnomalyLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnomalyLog{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
		counts:  make(map[string]int64),
	}
}

// Record notes one anomaly of the given kind for a room.
func (a *AnomalyLog) Record(kind, room, detail string) {
	line := fmt.Sprintf("%s room=%s %s", kind, room, detail)
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	a.mu.Lock()
	a.buffer[a.bufIdx] = line
	a.bufIdx = (a.bufIdx + 1) % MaxBufferedLines
	a.counts[kind]++
	a.total++
	a.mu.Unlock()

	level := a.classify(kind)
	if !a.verbose && level == slog.LevelDebug {
		return
	}
	a.logger.Log(context.Background(), level, kind,
		"room", room,
		"detail", detail,
	)
}

// classify picks the log level for an anomaly kind.
func (a *AnomalyLog) classify(kind string) slog.Level {
	if quietKinds[kind] {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (a *AnomalyLog) RecentLines(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	// Read from circular buffer in order
	for i := 0; i < n; i++ {
		idx := (a.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if a.buffer[idx] != "" {
			lines = append(lines, a.buffer[idx])
		}
	}

	return lines
}

// Counts returns a copy of the anomaly counts by kind.
func (a *AnomalyLog) Counts() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.counts)
}

// RestoreCounts replaces the counts with a copy taken earlier by Counts,
// undoing whatever was recorded since. Buffered lines are kept.
func (a *AnomalyLog) RestoreCounts(counts map[string]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts = maps.Clone(counts)
	if a.counts == nil {
		a.counts = make(map[string]int64)
	}
	a.total = 0
	for _, n := range a.counts {
		a.total += n
	}
}

// Total returns the number of anomalies recorded.
func (a *AnomalyLog) Total() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Summary renders the counts as "kind=n" pairs in kind order, or "none".
func (a *AnomalyLog) Summary() string {
	counts := a.Counts()
	if len(counts) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(counts))
	for _, kind := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s=%d", kind, counts[kind]))
	}
	return strings.Join(parts, " ")
}
