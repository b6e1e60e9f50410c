package orchestrator

import (
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/stats"
)

// Plan describes the days a run is about to process.
type Plan struct {
	RunID     string
	Start     time.Time // first day, inclusive
	End       time.Time // last day, exclusive
	Days      int
	ColdStart bool
}

// DayReport is what observers learn about one day. It is not modified after
// delivery.
type DayReport struct {
	Day     time.Time
	Index   int // 1-based position within the plan
	Skipped bool

	// Summary is nil for skipped days.
	Summary *stats.DaySummary

	Records   int64
	Malformed int64
	OpenRooms int
	InSession int
	Elapsed   time.Duration

	// Anomalies holds the run's cumulative anomaly counts by kind.
	Anomalies map[string]int64
}

// SpanMidnightPercent is the share of the day's segments that rooms still
// open at midnight represent, or "n/a" without segments.
func (r DayReport) SpanMidnightPercent() string {
	var total int64
	if r.Summary != nil {
		total = r.Summary.Segments()
	}
	return stats.FormatPercent(int64(r.OpenRooms), total)
}

// Observer receives progress from a run. Calls come from the goroutine
// running the orchestrator; implementations hand off to their own loops.
type Observer interface {
	ObserveStart(p Plan)
	ObserveDay(r DayReport)
}

// Result is everything a run produced. It is returned even when the run
// stopped early.
type Result struct {
	Plan    Plan
	Metrics []stats.DayMetrics
	Period  *stats.PeriodSummary

	DaysProcessed int
	DaysSkipped   int

	// StoppedAt is the first day that could not be fetched, zero if the run
	// reached the end of the plan.
	StoppedAt time.Time

	Published bool
	Duration  time.Duration
}
