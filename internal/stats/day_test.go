package stats

import (
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
	"github.com/randomizedcoder/go-room-progress/internal/session"
)

var day0 = time.Date(2015, 8, 13, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return day0.Add(time.Duration(sec) * time.Second)
}

// meeting builds the events of one segment in room id: the built-in client
// joins at start, the link-clicker joins one second later, the given
// statuses follow, and both leave at end.
func meeting(id string, start, end int, statuses ...events.Event) []events.Event {
	evs := []events.Event{
		events.New(id, events.RoleBuiltIn, events.ActionJoin, at(start)),
		events.New(id, events.RoleLinkClicker, events.ActionJoin, at(start+1)),
	}
	evs = append(evs, statuses...)
	return append(evs,
		events.New(id, events.RoleLinkClicker, events.ActionLeave, at(end)),
		events.New(id, events.RoleBuiltIn, events.ActionLeave, at(end+1)),
	)
}

func lcStatus(id, m string, sec int) events.Event {
	return events.NewStatus(id, events.RoleLinkClicker, events.Milestone(m), at(sec))
}

func biStatus(id, m string, sec int) events.Event {
	return events.NewStatus(id, events.RoleBuiltIn, events.Milestone(m), at(sec))
}

func segmentsOf(t *testing.T, evs ...[]events.Event) []*session.Segment {
	t.Helper()
	w := session.NewWorld(session.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return slices.Collect(w.Process(slices.Values(slices.Concat(evs...))))
}

// =============================================================================
// Tests: CountDay
// =============================================================================

func TestCountDay(t *testing.T) {
	order := events.DefaultMilestoneOrder()
	channels := events.DefaultChannels()

	segs := segmentsOf(t,
		meeting("r1", 0, 60,
			lcStatus("r1", "waiting", 2),
			lcStatus("r1", "sendrecv", 6),
			biStatus("r1", "connected", 8),
		),
		meeting("r2", 100, 130,
			lcStatus("r2", "sendrecv", 105),
			events.NewStatus("r2", events.RoleLinkClicker, "sendrecv", at(110)).WithException("1006"),
		),
		meeting("r3", 200, 210),
	)
	if len(segs) != 3 {
		t.Fatalf("built %d segments, want 3", len(segs))
	}

	d := CountDay(slices.Values(segs), order, channels)

	if d.Segments() != 3 {
		t.Errorf("Segments() = %d, want 3", d.Segments())
	}
	for m, want := range map[events.Milestone]int64{
		"connected":             1,
		"sendrecv":              1,
		events.MilestoneNone:    1,
		"waiting":               0,
		events.MilestoneUnknown: 0,
	} {
		if got := d.States.Count(m); got != want {
			t.Errorf("States[%s] = %d, want %d", m, got, want)
		}
	}
	if keys := d.States.Keys(); len(keys) != len(order.Buckets()) {
		t.Errorf("state buckets = %v, want every configured bucket", keys)
	}

	if got := d.Times["clicker_av"]; !slices.Equal(got, []int{5}) {
		t.Errorf("clicker_av = %v, want [5]", got)
	}
	if got := d.Times["clicker_screen"]; !slices.Equal(got, []int{session.UnknownSeconds}) {
		t.Errorf("clicker_screen = %v, want [-1]", got)
	}
	if got := d.Times["builtin_av"]; !slices.Equal(got, []int{7}) {
		t.Errorf("builtin_av = %v, want [7]", got)
	}

	if d.ExceptionCodes.Count("1006") != 1 || d.ExceptionCodes.Total() != 1 {
		t.Errorf("ExceptionCodes = %v", d.ExceptionCodes.AsMap())
	}
	if !slices.Equal(d.ExceptionTimes, []int{9}) {
		t.Errorf("ExceptionTimes = %v, want [9]", d.ExceptionTimes)
	}
	if d.Format() == "" {
		t.Error("Format() returned nothing")
	}
}

// =============================================================================
// Tests: DayMetrics
// =============================================================================

func TestDaySummary_AsDayMetrics(t *testing.T) {
	order := events.DefaultMilestoneOrder()
	segs := segmentsOf(t, meeting("r1", 0, 10, lcStatus("r1", "waiting", 2)))
	d := CountDay(slices.Values(segs), order, events.DefaultChannels())

	m := d.AsDayMetrics(day0)
	if m.Date != "2015-08-13" || m.Total != 1 || m.Counts["waiting"] != 1 {
		t.Fatalf("AsDayMetrics = %+v", m)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("Unmarshal flat: %v", err)
	}
	if flat["date"] != "2015-08-13" || flat["total"] != float64(1) || flat["nothing"] != float64(0) {
		t.Errorf("flat record = %v", flat)
	}

	var back DayMetrics
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	day, err := back.Day()
	if err != nil || !day.Equal(day0) {
		t.Errorf("Day() = %v, %v", day, err)
	}
	if back.Counts["waiting"] != 1 || len(back.Counts) != len(order.Buckets()) {
		t.Errorf("Counts = %v", back.Counts)
	}
}

func TestDayMetrics_UnmarshalRejectsMissingDate(t *testing.T) {
	var m DayMetrics
	if err := json.Unmarshal([]byte(`{"total": 3}`), &m); err == nil {
		t.Error("expected an error for a record without date")
	}
}
