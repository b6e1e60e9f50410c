package tui

import (
	"maps"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-room-progress/internal/events"
	"github.com/randomizedcoder/go-room-progress/internal/orchestrator"
	"github.com/randomizedcoder/go-room-progress/internal/stats"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the elapsed time.
type TickMsg time.Time

// StartMsg carries the plan of the run.
type StartMsg orchestrator.Plan

// DayMsg carries the report for one processed or skipped day.
type DayMsg orchestrator.DayReport

// DoneMsg signals the run has finished. Err is the run's error, if any.
type DoneMsg struct {
	Err error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Model represents the TUI state.
type Model struct {
	// Configuration
	order       *events.MilestoneOrder
	source      string
	metricsAddr string

	// Run state
	plan      orchestrator.Plan
	started   bool
	states    *stats.StateCounter[events.Milestone]
	last      *orchestrator.DayReport
	processed int
	skipped   int
	records   int64
	malformed int64
	anomalies map[string]int64

	finished bool
	runErr   error

	startTime  time.Time
	lastUpdate time.Time

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	// Order fixes the histogram buckets. Defaults apply when nil.
	Order *events.MilestoneOrder

	// Source describes where events come from, for the footer.
	Source string

	MetricsAddr string
}

// New creates a new TUI model.
func New(cfg Config) Model {
	order := cfg.Order
	if order == nil {
		order = events.DefaultMilestoneOrder()
	}
	return Model{
		order:       order,
		source:      cfg.Source,
		metricsAddr: cfg.MetricsAddr,
		states:      stats.NewStateCounter(order.Buckets()...),
		anomalies:   make(map[string]int64),
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.finished {
			return m, nil
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case StartMsg:
		m.plan = orchestrator.Plan(msg)
		m.started = true
		m.lastUpdate = time.Now()
		return m, nil

	case DayMsg:
		m.applyDay(orchestrator.DayReport(msg))
		return m, nil

	case DoneMsg:
		m.finished = true
		m.runErr = msg.Err
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// applyDay folds one report into the running totals. The histogram is
// rebuilt rather than shared so the report's summary is never mutated.
func (m *Model) applyDay(r orchestrator.DayReport) {
	m.last = &r
	m.records += r.Records
	m.malformed += r.Malformed
	if r.Anomalies != nil {
		m.anomalies = maps.Clone(r.Anomalies)
	}
	m.lastUpdate = time.Now()

	if r.Skipped || r.Summary == nil {
		m.skipped++
		return
	}
	m.processed++

	merged := stats.NewStateCounter(m.order.Buckets()...)
	merged.Add(m.states)
	merged.Add(r.Summary.States)
	m.states = merged
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// DaysDone returns the number of processed and skipped days.
func (m Model) DaysDone() int {
	return m.processed + m.skipped
}

// Progress returns the completed fraction of the plan (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.plan.Days <= 0 {
		if m.finished {
			return 1.0
		}
		return 0
	}
	return min(float64(m.DaysDone())/float64(m.plan.Days), 1.0)
}

// MalformedRate returns the share of fetched records that were malformed.
func (m Model) MalformedRate() float64 {
	if m.records == 0 {
		return 0
	}
	return float64(m.malformed) / float64(m.records)
}

// States returns the furthest-state histogram over all processed days.
func (m Model) States() *stats.StateCounter[events.Milestone] {
	return m.states
}

// =============================================================================
// Observer
// =============================================================================

// Sender is the part of *tea.Program the observer needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramObserver forwards orchestrator progress into a running program.
type ProgramObserver struct {
	program Sender
}

// NewProgramObserver creates an observer that sends to p.
func NewProgramObserver(p Sender) *ProgramObserver {
	return &ProgramObserver{program: p}
}

// ObserveStart sends the plan.
func (o *ProgramObserver) ObserveStart(p orchestrator.Plan) {
	o.program.Send(StartMsg(p))
}

// ObserveDay sends one day's report.
func (o *ProgramObserver) ObserveDay(r orchestrator.DayReport) {
	o.program.Send(DayMsg(r))
}

// Done reports the end of the run.
func (o *ProgramObserver) Done(err error) {
	o.program.Send(DoneMsg{Err: err})
}
