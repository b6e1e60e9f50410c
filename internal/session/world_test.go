package session

import (
	"bytes"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

func quietWorld(opts ...Option) *World {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWorld(append([]Option{WithLogger(logger)}, opts...)...)
}

func collect(w *World, evs ...events.Event) []*Segment {
	return slices.Collect(w.Process(slices.Values(evs)))
}

// =============================================================================
// Tests: segmentation
// =============================================================================

func TestWorld_OverlapMerges(t *testing.T) {
	w := quietWorld()
	segs := collect(w,
		join("r1", lc, 0),
		join("r1", bi, 2),
		status("r1", lc, "sendrecv", 3),
		leave("r1", bi, 5),
		join("r1", bi, 6),
		status("r1", bi, "connected", 7),
		leave("r1", lc, 9),
		leave("r1", bi, 10),
	)

	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Len() != 7 {
		t.Errorf("segment events = %d, want 7", segs[0].Len())
	}
	if w.OpenRooms() != 0 {
		t.Errorf("OpenRooms = %d, want 0", w.OpenRooms())
	}
}

func TestWorld_DisjointOverlapsSplit(t *testing.T) {
	w := quietWorld()
	segs := collect(w,
		join("r1", lc, 0),
		join("r1", bi, 1),
		leave("r1", lc, 2),
		leave("r1", bi, 3),
		join("r1", bi, 10),
		join("r1", lc, 11),
		leave("r1", bi, 12),
		leave("r1", lc, 13),
	)

	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if !segs[0].EndedAt.Before(segs[1].StartedAt) {
		t.Errorf("segments overlap: %v..%v and %v..", segs[0].StartedAt, segs[0].EndedAt, segs[1].StartedAt)
	}
}

func TestWorld_RevisitWhileLinkClickerStays(t *testing.T) {
	w := quietWorld()
	segs := collect(w,
		join("r1", lc, 0),
		join("r1", bi, 1),
		leave("r1", bi, 2),
		join("r1", bi, 3600),
		leave("r1", bi, 3601),
		leave("r1", lc, 3602),
	)

	// The room never empties, so both visits belong to one segment.
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Len() != 5 {
		t.Errorf("segment events = %d, want 5", segs[0].Len())
	}
	if !segs[0].StartedAt.Equal(at(1)) || !segs[0].EndedAt.Equal(at(3602)) {
		t.Errorf("segment spans %v..%v", segs[0].StartedAt, segs[0].EndedAt)
	}
}

func TestWorld_RoomsAreIndependent(t *testing.T) {
	w := quietWorld()
	segs := collect(w,
		join("a", lc, 0),
		join("b", bi, 1),
		join("a", bi, 2),
		leave("a", lc, 3),
		leave("a", bi, 4),
	)

	if len(segs) != 1 || segs[0].RoomID != "a" {
		t.Fatalf("segments = %v, want one for room a", segs)
	}
	if w.OpenRooms() != 1 || w.Room("b") == nil {
		t.Errorf("room b should still be open")
	}
	if w.InSessionRooms() != 0 {
		t.Errorf("InSessionRooms = %d, want 0", w.InSessionRooms())
	}
}

func TestWorld_ProcessIsLazy(t *testing.T) {
	w := quietWorld()
	evs := []events.Event{
		join("a", lc, 0), join("a", bi, 1), leave("a", lc, 2), leave("a", bi, 3),
		join("b", lc, 4), join("b", bi, 5), leave("b", lc, 6), leave("b", bi, 7),
	}

	for seg := range w.Process(slices.Values(evs)) {
		if seg.RoomID != "a" {
			t.Fatalf("first segment room = %s", seg.RoomID)
		}
		break
	}
	if got := w.EventsApplied(); got != 4 {
		t.Errorf("EventsApplied = %d, want 4 (stopped after first segment)", got)
	}
	if got := w.SegmentsClosed(); got != 1 {
		t.Errorf("SegmentsClosed = %d, want 1", got)
	}
}

func TestWorld_Anomalies(t *testing.T) {
	var seen []string
	w := quietWorld(WithAnomalyFunc(func(kind string, ev events.Event) {
		seen = append(seen, kind)
	}))

	segs := collect(w,
		leave("r1", lc, 0),
		join("r1", bi, 1),
		join("r1", bi, 2),
	)
	if len(segs) != 0 {
		t.Errorf("got %d segments, want 0", len(segs))
	}

	want := []string{AnomalyUnmatchedLeave, AnomalyDuplicateJoin}
	if !slices.Equal(seen, want) {
		t.Errorf("anomaly hook saw %v, want %v", seen, want)
	}

	counts := w.Anomalies()
	if counts[AnomalyUnmatchedLeave] != 1 || counts[AnomalyDuplicateJoin] != 1 {
		t.Errorf("Anomalies = %v", counts)
	}
	counts[AnomalyUnmatchedLeave] = 100
	if w.Anomalies()[AnomalyUnmatchedLeave] != 1 {
		t.Error("Anomalies returned the internal map")
	}
}

// =============================================================================
// Tests: persistence across periods
// =============================================================================

func TestWorld_BoundaryRoundTrip(t *testing.T) {
	order := events.DefaultMilestoneOrder()

	w := quietWorld(WithRunID("run-1"))
	if segs := collect(w, join("r1", lc, 0), join("r1", bi, 1)); len(segs) != 0 {
		t.Fatalf("period 1 emitted %d segments", len(segs))
	}

	data, err := w.Snapshot().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, ok := RestoreBytes(data)
	if !ok {
		t.Fatal("RestoreBytes reported a cold start")
	}

	segs := collect(restored,
		status("r1", lc, "sendrecv", 2),
		leave("r1", lc, 3),
		leave("r1", bi, 4),
	)
	if len(segs) != 1 {
		t.Fatalf("period 2 emitted %d segments, want 1", len(segs))
	}

	seg := segs[0]
	if !seg.StartedAt.Equal(at(1)) {
		t.Errorf("StartedAt = %v, want %v", seg.StartedAt, at(1))
	}
	if got := seg.FurthestState(order); got != "sendrecv" {
		t.Errorf("FurthestState = %q, want sendrecv", got)
	}
	if !seg.EndedAt.Equal(at(4)) {
		t.Errorf("EndedAt = %v, want %v", seg.EndedAt, at(4))
	}
}

func TestWorld_ColdStartEquivalence(t *testing.T) {
	evs := []events.Event{
		join("r1", bi, 0),
		join("r1", lc, 1),
		status("r1", lc, "waiting", 2),
		leave("r1", lc, 3),
		leave("r1", bi, 4),
	}
	want := collect(quietWorld(), evs...)

	stale := quietWorld()
	collect(stale, join("r1", lc, -10), join("r1", bi, -5))
	snap := stale.Snapshot()
	snap.Version = SnapshotVersion + 1
	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"no state", nil},
		{"version mismatch", data},
		{"corrupt", []byte("{not json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, restored := RestoreBytes(tt.data)
			if restored {
				t.Fatal("expected cold start")
			}
			if w.OpenRooms() != 0 {
				t.Fatalf("cold world has %d rooms", w.OpenRooms())
			}
			got := collect(w, evs...)
			if len(got) != len(want) {
				t.Fatalf("got %d segments, want %d", len(got), len(want))
			}
			for i := range got {
				if got[i].Len() != want[i].Len() || !got[i].StartedAt.Equal(want[i].StartedAt) || !got[i].EndedAt.Equal(want[i].EndedAt) {
					t.Errorf("segment %d differs: %+v vs %+v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestSnapshot_DeterministicAndDetached(t *testing.T) {
	w := quietWorld()
	collect(w, join("b", lc, 0), join("a", lc, 1), join("a", bi, 2))

	snap := w.Snapshot()
	if len(snap.Rooms) != 2 || snap.Rooms[0].ID != "a" || snap.Rooms[1].ID != "b" {
		t.Fatalf("snapshot rooms not sorted: %+v", snap.Rooms)
	}

	first, _ := snap.Encode()
	collect(w, status("a", lc, "sendrecv", 3), leave("a", lc, 4), leave("a", bi, 5))
	second, _ := snap.Encode()
	if !bytes.Equal(first, second) {
		t.Error("snapshot changed after the world moved on")
	}
}

func TestRestore_DropsEmptyRooms(t *testing.T) {
	snap := &Snapshot{
		Version: SnapshotVersion,
		Rooms: []*Room{
			nil,
			{ID: ""},
			NewRoom("empty"),
			{ID: "kept", Present: map[events.Role]time.Time{lc: at(0)}},
		},
	}

	w, ok := Restore(snap)
	if !ok {
		t.Fatal("Restore reported a cold start")
	}
	if w.OpenRooms() != 1 || w.Room("kept") == nil {
		t.Errorf("rooms after restore = %d", w.OpenRooms())
	}
}

func TestSnapshot_CarriesThrough(t *testing.T) {
	day := time.Date(2015, 8, 14, 0, 0, 0, 0, time.UTC)
	w := quietWorld()
	collect(w, join("a", lc, 0))
	w.SetThrough(day)

	data, err := w.Snapshot().Encode()
	if err != nil {
		t.Fatal(err)
	}
	restored, ok := RestoreBytes(data)
	if !ok {
		t.Fatal("RestoreBytes reported a cold start")
	}
	if !restored.Through().Equal(day) {
		t.Errorf("Through = %v, want %v", restored.Through(), day)
	}

	empty, _ := RestoreBytes([]byte(`{"version":1,"rooms":[]}`))
	if !empty.Through().IsZero() {
		t.Errorf("snapshot without through restored as %v", empty.Through())
	}
}

func TestWorld_AnomalyLoggedOnce(t *testing.T) {
	tests := []struct {
		name     string
		observed bool
		logged   bool
	}{
		{"without observer", false, true},
		{"with observer", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			opts := []Option{WithLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))}
			calls := 0
			if tt.observed {
				opts = append(opts, WithAnomalyFunc(func(string, events.Event) { calls++ }))
			}
			w := NewWorld(opts...)
			collect(w, leave("r1", bi, 0))

			if got := bytes.Contains(buf.Bytes(), []byte(AnomalyUnmatchedLeave)); got != tt.logged {
				t.Errorf("logged = %v, want %v:\n%s", got, tt.logged, buf.String())
			}
			if tt.observed && calls != 1 {
				t.Errorf("observer called %d times, want 1", calls)
			}
			if w.Anomalies()[AnomalyUnmatchedLeave] != 1 {
				t.Errorf("anomalies = %v", w.Anomalies())
			}
		})
	}
}
