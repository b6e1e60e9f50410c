package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is bumped whenever the persisted room schema changes.
// Snapshots with any other version are ignored (cold start); there is no
// migration.
const SnapshotVersion = 1

// Snapshot is the persisted form of a World's open rooms.
type Snapshot struct {
	Version int       `json:"version"`
	RunID   string    `json:"run_id,omitempty"`
	TakenAt time.Time `json:"taken_at"`
	// Through is the last day whose events the rooms include.
	Through time.Time `json:"through,omitzero"`
	Rooms   []*Room   `json:"rooms"`
}

// Snapshot captures every retained room, including open segments, as a deep
// copy. The World can keep processing without affecting the snapshot.
func (w *World) Snapshot() *Snapshot {
	s := &Snapshot{
		Version: SnapshotVersion,
		RunID:   w.runID,
		TakenAt: time.Now().UTC(),
		Through: w.through,
		Rooms:   make([]*Room, 0, len(w.rooms)),
	}
	for _, id := range w.roomIDs() {
		s.Rooms = append(s.Rooms, w.rooms[id].clone())
	}
	return s
}

// Encode serializes the snapshot as JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding world snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a snapshot. It does not check the version; Restore
// does.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding world snapshot: %w", err)
	}
	return &s, nil
}

// Compatible reports whether s can be restored by this build.
func (s *Snapshot) Compatible() bool {
	return s != nil && s.Version == SnapshotVersion
}

// Restore rebuilds a World from a snapshot. A nil or incompatible snapshot
// yields an empty World and restored=false, exactly as NewWorld would.
// Rooms that carry no presence are dropped.
func Restore(s *Snapshot, opts ...Option) (w *World, restored bool) {
	w = NewWorld(opts...)
	if !s.Compatible() {
		return w, false
	}
	w.through = s.Through

	for _, saved := range s.Rooms {
		if saved == nil || saved.ID == "" || len(saved.Present) == 0 {
			continue
		}
		room := saved.clone()
		if room.Open != nil {
			room.Open.RoomID = room.ID
			room.Open.EndedAt = time.Time{}
		}
		w.rooms[room.ID] = room
	}
	return w, true
}

// RestoreBytes decodes and restores in one step. Any decode failure is
// treated as a cold start.
func RestoreBytes(data []byte, opts ...Option) (*World, bool) {
	if len(data) == 0 {
		return NewWorld(opts...), false
	}
	s, err := DecodeSnapshot(data)
	if err != nil {
		return NewWorld(opts...), false
	}
	return Restore(s, opts...)
}
