package session

import (
	"errors"
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

var (
	// ErrUnmatchedLeave is returned for a Leave from a role that was not
	// present. It is an anomaly, not a failure: presence is left unchanged
	// and the event is still recorded in any open segment.
	ErrUnmatchedLeave = errors.New("leave without matching join")

	// ErrDuplicateJoin is returned for a Join from a role already present.
	// The original join time is kept.
	ErrDuplicateJoin = errors.New("join while already present")
)

// RoomState is the presence state of a room.
type RoomState int

const (
	// StateEmpty means no one is present and no segment is open.
	StateEmpty RoomState = iota

	// StatePartiallyPresent means exactly one tracked role is present. A
	// segment may still be open if the other role left after overlapping.
	StatePartiallyPresent

	// StateInSession means both tracked roles are present.
	StateInSession
)

// String returns a human-readable name for the state.
func (s RoomState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePartiallyPresent:
		return "partially_present"
	case StateInSession:
		return "in_session"
	default:
		return "unknown"
	}
}

// Room tracks who is present in one room and the segment being built.
//
// A segment opens on the event that puts both roles in the room and stays
// open until the room is empty again, so a role that drops out and rejoins
// while the other is still present continues the same meeting attempt.
type Room struct {
	ID      string                   `json:"id"`
	Present map[events.Role]time.Time `json:"present"`
	Open    *Segment                 `json:"open,omitempty"`
}

// NewRoom creates an empty room.
func NewRoom(id string) *Room {
	return &Room{
		ID:      id,
		Present: make(map[events.Role]time.Time, 2),
	}
}

// InSession reports whether both the link-clicker and the built-in client
// are present.
func (r *Room) InSession() bool {
	_, clicker := r.Present[events.RoleLinkClicker]
	_, builtIn := r.Present[events.RoleBuiltIn]
	return clicker && builtIn
}

// State returns the room's presence state.
func (r *Room) State() RoomState {
	switch {
	case r.InSession():
		return StateInSession
	case len(r.Present) > 0:
		return StatePartiallyPresent
	default:
		return StateEmpty
	}
}

// Retain reports whether the room still has a reason to exist: someone is
// present and may yet start or finish an overlap.
func (r *Room) Retain() bool {
	return len(r.Present) > 0
}

// Apply feeds one event into the room. It returns the segment closed by the
// event (the Leave that empties the room), if any, and a non-nil anomaly
// error (ErrUnmatchedLeave or ErrDuplicateJoin) for tolerated
// irregularities. Events must arrive in timestamp order.
func (r *Room) Apply(ev events.Event) (*Segment, error) {
	switch ev.Action {
	case events.ActionJoin:
		return nil, r.join(ev)
	case events.ActionRefresh, events.ActionStatus:
		if r.Open != nil {
			r.Open.append(ev)
		}
		return nil, nil
	case events.ActionLeave:
		return r.leave(ev)
	default:
		return nil, nil
	}
}

func (r *Room) join(ev events.Event) error {
	var anomaly error
	if _, present := r.Present[ev.Role]; present {
		anomaly = ErrDuplicateJoin
	} else {
		r.Present[ev.Role] = ev.Timestamp
	}

	switch {
	case r.Open != nil:
		r.Open.append(ev)
	case r.InSession():
		r.Open = newSegment(ev)
	}
	return anomaly
}

func (r *Room) leave(ev events.Event) (*Segment, error) {
	var anomaly error
	if _, present := r.Present[ev.Role]; present {
		delete(r.Present, ev.Role)
	} else {
		anomaly = ErrUnmatchedLeave
	}

	if r.Open == nil {
		return nil, anomaly
	}

	r.Open.append(ev)
	if len(r.Present) > 0 {
		return nil, anomaly
	}

	closed := r.Open
	closed.EndedAt = ev.Timestamp
	r.Open = nil
	return closed, anomaly
}

// clone returns a deep copy of the room.
func (r *Room) clone() *Room {
	cp := NewRoom(r.ID)
	for role, ts := range r.Present {
		cp.Present[role] = ts
	}
	if r.Open != nil {
		cp.Open = r.Open.clone()
	}
	return cp
}
