package stats

import (
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

// DefaultMaxPlausibleSeconds bounds the times included in period statistics.
// Zero means the time could not be determined; very long times are outliers
// from sessions left idle.
const DefaultMaxPlausibleSeconds = 35

// TimeStats describes a filtered set of whole-second times.
type TimeStats struct {
	Count int
	Min   int
	Max   int
	Avg   float64

	// Percentiles from a T-Digest (compression 100).
	P50 float64
	P95 float64
	P99 float64

	Histogram *StateCounter[int]
}

// PeriodSummary accumulates DaySummaries over a multi-day run.
type PeriodSummary struct {
	States         *StateCounter[events.Milestone]
	ExceptionCodes *StateCounter[string]

	times          map[string][]int
	exceptionTimes []int
	success        []int
	failure        []int
	channels       []string
	days           int

	// MaxPlausibleSeconds is the exclusive upper bound for included times.
	MaxPlausibleSeconds int
}

// NewPeriodSummary creates an empty period summary.
func NewPeriodSummary(order *events.MilestoneOrder, channels []events.Channel) *PeriodSummary {
	p := &PeriodSummary{
		States:              NewStateCounter(order.Buckets()...),
		ExceptionCodes:      NewSortedCounter[string](),
		times:               make(map[string][]int, len(channels)),
		MaxPlausibleSeconds: DefaultMaxPlausibleSeconds,
	}
	for _, ch := range channels {
		p.channels = append(p.channels, ch.Name)
	}
	return p
}

// Append folds one day into the period.
func (p *PeriodSummary) Append(day *DaySummary) {
	if day == nil {
		return
	}
	p.days++
	p.States.Add(day.States)
	p.ExceptionCodes.Add(day.ExceptionCodes)
	p.exceptionTimes = append(p.exceptionTimes, day.ExceptionTimes...)
	for name, times := range day.Times {
		if !slices.Contains(p.channels, name) {
			p.channels = append(p.channels, name)
		}
		p.times[name] = append(p.times[name], times...)
	}
}

// AddDurations records success and failure duration series for the
// exploratory section of Format.
func (p *PeriodSummary) AddDurations(success, failure iter.Seq[int]) {
	p.success = slices.AppendSeq(p.success, success)
	p.failure = slices.AppendSeq(p.failure, failure)
}

// Days returns the number of days appended.
func (p *PeriodSummary) Days() int {
	return p.days
}

// Channels returns the channel names in configuration order.
func (p *PeriodSummary) Channels() []string {
	return slices.Clone(p.channels)
}

// ChannelStats summarizes one channel's connection times.
func (p *PeriodSummary) ChannelStats(name string) TimeStats {
	return Summarize(p.times[name], p.MaxPlausibleSeconds)
}

// ExceptionStats summarizes time-to-first-exception.
func (p *PeriodSummary) ExceptionStats() TimeStats {
	return Summarize(p.exceptionTimes, p.MaxPlausibleSeconds)
}

// Summarize keeps times with 0 < t < maxSeconds and describes them.
func Summarize(times []int, maxSeconds int) TimeStats {
	st := TimeStats{Histogram: NewSortedCounter[int]()}
	td := tdigest.NewWithCompression(100)

	sum := 0
	for _, t := range times {
		if t <= 0 || t >= maxSeconds {
			continue
		}
		if st.Count == 0 || t < st.Min {
			st.Min = t
		}
		if t > st.Max {
			st.Max = t
		}
		st.Count++
		sum += t
		st.Histogram.Incr(t)
		td.Add(float64(t), 1)
	}

	if st.Count > 0 {
		st.Avg = float64(sum) / float64(st.Count)
		st.P50 = td.Quantile(0.50)
		st.P95 = td.Quantile(0.95)
		st.P99 = td.Quantile(0.99)
	}
	return st
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// Format renders the period summary printed at the end of a run.
func (p *PeriodSummary) Format() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                          room-progress Period Summary\n")
	b.WriteString(heavyRule)
	b.WriteString("\n")

	fmt.Fprintf(&b, "Days Processed:         %d\n", p.days)
	fmt.Fprintf(&b, "Segments:               %s\n\n", FormatNumber(p.States.Total()))

	writeSection(&b, "Furthest State")
	b.WriteString(p.States.String())
	b.WriteString("\n\n")

	for _, name := range p.channels {
		writeSection(&b, name+" Connection Times")
		writeTimeStats(&b, p.ChannelStats(name))
	}

	writeSection(&b, "First Exception Codes")
	if p.ExceptionCodes.Empty() {
		b.WriteString("  (none)\n\n")
	} else {
		b.WriteString(p.ExceptionCodes.String())
		b.WriteString("\n\n")
	}

	writeSection(&b, "Time To First Exception")
	writeTimeStats(&b, p.ExceptionStats())

	if len(p.success) > 0 || len(p.failure) > 0 {
		writeSection(&b, "Seconds From Overlap To Best Link-Clicker State")
		b.WriteString(timeCounter(p.success).String())
		b.WriteString("\n\n")
		writeSection(&b, "Overlap Length Of Failed Segments (at least)")
		b.WriteString(timeCounter(p.failure).String())
		b.WriteString("\n\n")
	}

	return b.String()
}

func writeSection(b *strings.Builder, title string) {
	b.WriteString(lightRule)
	pad := max((79-len(title))/2, 0)
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(lightRule)
	b.WriteString("\n")
}

func writeTimeStats(b *strings.Builder, st TimeStats) {
	if st.Count == 0 {
		b.WriteString("  No values available\n\n")
		return
	}
	fmt.Fprintf(b, "  Total Points:         %d\n", st.Count)
	fmt.Fprintf(b, "  Min:                  %d s\n", st.Min)
	fmt.Fprintf(b, "  Average:              %.2f s\n", st.Avg)
	fmt.Fprintf(b, "  Max:                  %d s\n", st.Max)
	fmt.Fprintf(b, "  P50 / P95 / P99:      %.1f / %.1f / %.1f s\n\n", st.P50, st.P95, st.P99)
	b.WriteString(st.Histogram.String())
	b.WriteString("\n\n")
}
