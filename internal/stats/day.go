package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
	"github.com/randomizedcoder/go-room-progress/internal/session"
)

// DateLayout is the day key used in metrics records and index names.
const DateLayout = "2006-01-02"

// DaySummary aggregates the segments closed during one day.
type DaySummary struct {
	// States is the furthest-state histogram over order.Buckets().
	States *StateCounter[events.Milestone]

	// Times holds whole-second connection times per channel name, one entry
	// per connected segment (session.UnknownSeconds when never established).
	Times map[string][]int

	// ExceptionCodes counts the first exception code of each segment that
	// stalled at the best link-clicker-only milestone.
	ExceptionCodes *StateCounter[string]

	// ExceptionTimes holds the matching time-to-first-exception values.
	ExceptionTimes []int

	order    *events.MilestoneOrder
	channels []events.Channel
}

// NewDaySummary creates an empty summary for the given order and channels.
func NewDaySummary(order *events.MilestoneOrder, channels []events.Channel) *DaySummary {
	d := &DaySummary{
		States:         NewStateCounter(order.Buckets()...),
		Times:          make(map[string][]int, len(channels)),
		ExceptionCodes: NewSortedCounter[string](),
		order:          order,
		channels:       channels,
	}
	for _, ch := range channels {
		d.Times[ch.Name] = nil
	}
	return d
}

// CountDay drains a segment sequence into a new DaySummary.
func CountDay(segments iter.Seq[*session.Segment], order *events.MilestoneOrder, channels []events.Channel) *DaySummary {
	d := NewDaySummary(order, channels)
	for seg := range segments {
		d.Add(seg)
	}
	return d
}

// Add counts one closed segment.
func (d *DaySummary) Add(seg *session.Segment) {
	d.States.Incr(seg.FurthestState(d.order))

	if times, ok := seg.ConnectionTimes(d.order, d.channels); ok {
		for _, ct := range times {
			d.Times[ct.Channel] = append(d.Times[ct.Channel], ct.Seconds)
		}
	}

	if exc, ok := seg.ExceptionTime(d.order); ok {
		d.ExceptionCodes.Incr(exc.Code)
		d.ExceptionTimes = append(d.ExceptionTimes, exc.Seconds)
	}
}

// Segments returns the number of segments counted.
func (d *DaySummary) Segments() int64 {
	return d.States.Total()
}

// Channels returns the configured channel names in order.
func (d *DaySummary) Channels() []string {
	names := make([]string, len(d.channels))
	for i, ch := range d.channels {
		names[i] = ch.Name
	}
	return names
}

// Format renders the day's raw time histograms.
func (d *DaySummary) Format() string {
	var b strings.Builder
	for _, name := range d.Channels() {
		fmt.Fprintf(&b, "%s connection times:\n", name)
		b.WriteString(timeCounter(d.Times[name]).String())
		b.WriteString("\n")
	}
	b.WriteString("First exception codes:\n")
	b.WriteString(d.ExceptionCodes.String())
	b.WriteString("\nException times:\n")
	b.WriteString(timeCounter(d.ExceptionTimes).String())
	b.WriteString("\n")
	return b.String()
}

// AsDayMetrics returns the dashboard record for this day.
func (d *DaySummary) AsDayMetrics(day time.Time) DayMetrics {
	counts := make(map[string]int64, len(d.States.Keys()))
	for k, v := range d.States.AsMap() {
		counts[string(k)] = v
	}
	return DayMetrics{
		Date:   day.Format(DateLayout),
		Total:  d.States.Total(),
		Counts: counts,
	}
}

func timeCounter(times []int) *StateCounter[int] {
	c := NewSortedCounter[int]()
	for _, t := range times {
		c.Incr(t)
	}
	return c
}

// DayMetrics is one day's dashboard record. It serializes flat:
// {"date": "...", "total": N, "<bucket>": count, ...}.
type DayMetrics struct {
	Date   string
	Total  int64
	Counts map[string]int64
}

// Day parses Date.
func (m DayMetrics) Day() (time.Time, error) {
	t, err := time.Parse(DateLayout, m.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing metrics date %q: %w", m.Date, err)
	}
	return t, nil
}

// MarshalJSON flattens the bucket counts next to date and total.
func (m DayMetrics) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(m.Counts)+2)
	for k, v := range m.Counts {
		flat[k] = v
	}
	flat["date"] = m.Date
	flat["total"] = m.Total
	return json.Marshal(flat)
}

// UnmarshalJSON reads a flat record. Non-numeric extra fields are ignored.
func (m *DayMetrics) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	*m = DayMetrics{Counts: make(map[string]int64, len(flat))}
	for k, raw := range flat {
		switch k {
		case "date":
			if err := json.Unmarshal(raw, &m.Date); err != nil {
				return fmt.Errorf("metrics date: %w", err)
			}
		case "total":
			if err := json.Unmarshal(raw, &m.Total); err != nil {
				return fmt.Errorf("metrics total: %w", err)
			}
		default:
			var n int64
			if err := json.Unmarshal(raw, &n); err == nil {
				m.Counts[k] = n
			}
		}
	}
	if m.Date == "" {
		return errors.New("metrics record without date")
	}
	return nil
}
