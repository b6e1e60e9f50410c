package session

import (
	"errors"
	"iter"
	"log/slog"
	"sort"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

// Anomaly kinds counted by the World.
const (
	AnomalyUnmatchedLeave = "unmatched_leave"
	AnomalyDuplicateJoin  = "duplicate_join"
)

// AnomalyFunc observes tolerated irregularities in the event stream.
type AnomalyFunc func(kind string, ev events.Event)

// World owns every Room that still has someone present. It is not safe for
// concurrent use: events are processed one at a time by a single caller.
type World struct {
	rooms     map[string]*Room
	logger    *slog.Logger
	onAnomaly AnomalyFunc
	runID     string
	through   time.Time

	anomalies map[string]int64
	applied   int64
	closed    int64
}

// Option configures a World.
type Option func(*World)

// WithLogger sets the logger used for anomaly reports when no AnomalyFunc
// is registered.
func WithLogger(logger *slog.Logger) Option {
	return func(w *World) {
		w.logger = logger
	}
}

// WithAnomalyFunc registers an observer called for every anomaly. The
// World then leaves logging to the observer.
func WithAnomalyFunc(fn AnomalyFunc) Option {
	return func(w *World) {
		w.onAnomaly = fn
	}
}

// WithRunID tags snapshots taken from this World.
func WithRunID(id string) Option {
	return func(w *World) {
		w.runID = id
	}
}

// NewWorld creates an empty World (cold start).
func NewWorld(opts ...Option) *World {
	w := &World{
		rooms:     make(map[string]*Room),
		logger:    slog.Default(),
		anomalies: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Process consumes an ordered event sequence and lazily yields segments in
// the order they close. Replaying the same input against the same World
// double-applies presence; supply each period's events exactly once.
func (w *World) Process(evs iter.Seq[events.Event]) iter.Seq[*Segment] {
	return func(yield func(*Segment) bool) {
		for ev := range evs {
			seg := w.Apply(ev)
			if seg == nil {
				continue
			}
			if !yield(seg) {
				return
			}
		}
	}
}

// Apply routes one event to its Room and returns the segment it closed, if
// any. Rooms with nobody present are dropped.
func (w *World) Apply(ev events.Event) *Segment {
	w.applied++

	room, ok := w.rooms[ev.RoomID]
	if !ok {
		room = NewRoom(ev.RoomID)
		w.rooms[ev.RoomID] = room
	}

	seg, err := room.Apply(ev)
	if err != nil {
		w.recordAnomaly(err, ev)
	}
	if !room.Retain() {
		delete(w.rooms, ev.RoomID)
	}
	if seg != nil {
		w.closed++
	}
	return seg
}

func (w *World) recordAnomaly(err error, ev events.Event) {
	kind := "other"
	switch {
	case errors.Is(err, ErrUnmatchedLeave):
		kind = AnomalyUnmatchedLeave
	case errors.Is(err, ErrDuplicateJoin):
		kind = AnomalyDuplicateJoin
	}
	w.anomalies[kind]++

	// A registered observer owns the reporting.
	if w.onAnomaly != nil {
		w.onAnomaly(kind, ev)
		return
	}
	w.logger.Debug(kind,
		"room", ev.RoomID,
		"role", ev.Role.String(),
		"ts", ev.Timestamp,
	)
}

// SetThrough records day as the last day whose events have been applied.
// Snapshots carry it so a resumed run can check the rooms against the
// metrics published with them.
func (w *World) SetThrough(day time.Time) {
	w.through = day
}

// Through returns the last day recorded with SetThrough, or the zero time.
func (w *World) Through() time.Time {
	return w.through
}

// Room returns the open room with the given id, or nil.
func (w *World) Room(id string) *Room {
	return w.rooms[id]
}

// OpenRooms returns the number of rooms with someone present.
func (w *World) OpenRooms() int {
	return len(w.rooms)
}

// InSessionRooms returns the number of rooms holding an open segment.
func (w *World) InSessionRooms() int {
	n := 0
	for _, r := range w.rooms {
		if r.Open != nil {
			n++
		}
	}
	return n
}

// Anomalies returns a copy of the anomaly counts by kind.
func (w *World) Anomalies() map[string]int64 {
	out := make(map[string]int64, len(w.anomalies))
	for k, v := range w.anomalies {
		out[k] = v
	}
	return out
}

// EventsApplied returns the number of events fed to the World.
func (w *World) EventsApplied() int64 {
	return w.applied
}

// SegmentsClosed returns the number of segments the World has emitted.
func (w *World) SegmentsClosed() int64 {
	return w.closed
}

// roomIDs returns room ids in sorted order for deterministic snapshots.
func (w *World) roomIDs() []string {
	ids := make([]string, 0, len(w.rooms))
	for id := range w.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
