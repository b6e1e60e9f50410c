package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-room-progress/internal/events"
	"github.com/randomizedcoder/go-room-progress/internal/orchestrator"
	"github.com/randomizedcoder/go-room-progress/internal/stats"
)

// =============================================================================
// Test Helpers
// =============================================================================

var testDay = time.Date(2015, 8, 13, 0, 0, 0, 0, time.UTC)

func testPlan(days int) orchestrator.Plan {
	return orchestrator.Plan{
		RunID: "run",
		Start: testDay,
		End:   testDay.AddDate(0, 0, days),
		Days:  days,
	}
}

func summaryWith(states ...events.Milestone) *stats.DaySummary {
	d := stats.NewDaySummary(events.DefaultMilestoneOrder(), events.DefaultChannels())
	for _, s := range states {
		d.States.Incr(s)
	}
	return d
}

// update applies msgs in order and returns the resulting model.
func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		if !ok {
			t.Fatalf("Update returned %T, want Model", next)
		}
	}
	return m
}

// recordingSender collects what an observer sends.
type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *recordingSender) Send(msg tea.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew(t *testing.T) {
	model := New(Config{Source: "elastic", MetricsAddr: "localhost:9090"})

	if model.source != "elastic" {
		t.Errorf("source = %q", model.source)
	}
	if model.metricsAddr != "localhost:9090" {
		t.Errorf("metricsAddr = %s, want localhost:9090", model.metricsAddr)
	}
	if model.width != 80 || model.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", model.width, model.height)
	}
	if model.order == nil || model.states == nil {
		t.Fatal("defaults not applied")
	}
	if got := len(model.States().Keys()); got != len(events.DefaultMilestoneOrder().Buckets()) {
		t.Errorf("histogram has %d buckets", got)
	}
}

// =============================================================================
// Tests: Init
// =============================================================================

func TestModel_Init(t *testing.T) {
	if cmd := New(Config{}).Init(); cmd == nil {
		t.Error("Init should return a tick command")
	}
}

// =============================================================================
// Tests: Update
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	keys := []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune{'q'}},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	}

	for _, key := range keys {
		t.Run(key.String(), func(t *testing.T) {
			next, cmd := New(Config{}).Update(key)
			if !next.(Model).quitting {
				t.Error("model should be quitting")
			}
			if cmd == nil {
				t.Error("expected tea.Quit")
			}
			if next.View() != "" {
				t.Error("a quitting model renders nothing")
			}
		})
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	m := update(t, New(Config{}), tea.WindowSizeMsg{Width: 120, Height: 40})
	if m.width != 120 || m.height != 40 {
		t.Errorf("size = %dx%d, want 120x40", m.width, m.height)
	}
}

func TestModel_Update_Tick(t *testing.T) {
	m := New(Config{})
	if _, cmd := m.Update(TickMsg(time.Now())); cmd == nil {
		t.Error("a running model keeps ticking")
	}

	m = update(t, m, DoneMsg{})
	if _, cmd := m.Update(TickMsg(time.Now())); cmd != nil {
		t.Error("a finished model stops ticking")
	}
}

func TestModel_Update_Days(t *testing.T) {
	m := update(t, New(Config{}),
		StartMsg(testPlan(3)),
		DayMsg{
			Day:       testDay,
			Index:     1,
			Summary:   summaryWith("connected", "connected", "sendrecv"),
			Records:   100,
			Malformed: 1,
			OpenRooms: 2,
			Anomalies: map[string]int64{"unmatched_leave": 1},
		},
		DayMsg{Day: testDay.AddDate(0, 0, 1), Index: 2, Skipped: true},
		DayMsg{
			Day:       testDay.AddDate(0, 0, 2),
			Index:     3,
			Summary:   summaryWith("connected"),
			Records:   100,
			Anomalies: map[string]int64{"unmatched_leave": 4},
		},
	)

	if !m.started || m.plan.Days != 3 {
		t.Fatalf("plan not applied: %+v", m.plan)
	}
	if m.processed != 2 || m.skipped != 1 || m.DaysDone() != 3 {
		t.Errorf("processed=%d skipped=%d", m.processed, m.skipped)
	}
	if got := m.Progress(); got != 1.0 {
		t.Errorf("Progress() = %v, want 1", got)
	}
	if got := m.States().Count("connected"); got != 3 {
		t.Errorf("connected = %d, want 3", got)
	}
	if got := m.States().Total(); got != 4 {
		t.Errorf("total segments = %d, want 4", got)
	}
	if got := m.MalformedRate(); got != 0.005 {
		t.Errorf("MalformedRate() = %v, want 0.005", got)
	}
	if m.anomalies["unmatched_leave"] != 4 {
		t.Errorf("anomalies should track the latest cumulative counts: %v", m.anomalies)
	}
}

func TestModel_Update_DoesNotMutateReports(t *testing.T) {
	first := summaryWith("connected")
	m := update(t, New(Config{}),
		StartMsg(testPlan(2)),
		DayMsg{Day: testDay, Summary: first},
		DayMsg{Day: testDay.AddDate(0, 0, 1), Summary: summaryWith("connected")},
	)

	if got := first.States.Total(); got != 1 {
		t.Errorf("first day's summary was modified: total = %d", got)
	}
	if got := m.States().Count("connected"); got != 2 {
		t.Errorf("connected = %d, want 2", got)
	}
}

func TestModel_Progress(t *testing.T) {
	tests := []struct {
		name string
		msgs []tea.Msg
		want float64
	}{
		{"not started", nil, 0},
		{"half", []tea.Msg{StartMsg(testPlan(4)), DayMsg{Skipped: true}, DayMsg{Skipped: true}}, 0.5},
		{"nothing planned", []tea.Msg{StartMsg(testPlan(0))}, 0},
		{"nothing planned and done", []tea.Msg{StartMsg(testPlan(0)), DoneMsg{}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := update(t, New(Config{}), tt.msgs...)
			if got := m.Progress(); got != tt.want {
				t.Errorf("Progress() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View(t *testing.T) {
	m := update(t, New(Config{Source: "file:/data/events"}),
		tea.WindowSizeMsg{Width: 100, Height: 40},
		StartMsg(testPlan(2)),
		DayMsg{
			Day:       testDay,
			Index:     1,
			Summary:   summaryWith("connected", "sendrecv"),
			Records:   12,
			OpenRooms: 1,
			Anomalies: map[string]int64{"duplicate_join": 2},
		},
	)

	view := m.View()
	for _, want := range []string{
		"room-progress",
		"Days: 1/2",
		"2015-08-13 .. 2015-08-14",
		"Furthest State",
		"connected",
		"Last Day: 2015-08-13",
		"50.0%",
		"duplicate_join",
		"file:/data/events",
		"q: quit",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_View_States(t *testing.T) {
	tests := []struct {
		name string
		msgs []tea.Msg
		want string
	}{
		{"loading", nil, "Reading published state"},
		{"up to date", []tea.Msg{StartMsg(testPlan(0))}, "Nothing to do"},
		{"running", []tea.Msg{StartMsg(testPlan(5))}, "Processing... 0/5 days"},
		{"complete", []tea.Msg{StartMsg(testPlan(1)), DayMsg{Skipped: true}, DoneMsg{}}, "Run complete"},
		{"failed", []tea.Msg{StartMsg(testPlan(1)), DoneMsg{Err: errors.New("index unavailable")}}, "index unavailable"},
		{"skipped day", []tea.Msg{StartMsg(testPlan(1)), DayMsg{Day: testDay, Skipped: true}}, "skipped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := update(t, New(Config{}), tt.msgs...).View()
			if !strings.Contains(view, tt.want) {
				t.Errorf("view missing %q", tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: ProgramObserver
// =============================================================================

func TestProgramObserver(t *testing.T) {
	sender := &recordingSender{}
	obs := NewProgramObserver(sender)

	obs.ObserveStart(testPlan(1))
	obs.ObserveDay(orchestrator.DayReport{Day: testDay, Index: 1})
	obs.Done(nil)

	if len(sender.msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sender.msgs))
	}
	if _, ok := sender.msgs[0].(StartMsg); !ok {
		t.Errorf("msgs[0] = %T, want StartMsg", sender.msgs[0])
	}
	if d, ok := sender.msgs[1].(DayMsg); !ok || d.Index != 1 {
		t.Errorf("msgs[1] = %#v, want DayMsg", sender.msgs[1])
	}
	if _, ok := sender.msgs[2].(DoneMsg); !ok {
		t.Errorf("msgs[2] = %T, want DoneMsg", sender.msgs[2])
	}
}

var _ orchestrator.Observer = (*ProgramObserver)(nil)
