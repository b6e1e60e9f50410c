// Package session implements the segmentation engine: Rooms track presence
// of the two roles, Segments capture one maximal overlap between them, and
// the World routes an ordered event stream to Rooms and carries open Rooms
// across processing periods.
package session

import (
	"time"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

// UnknownSeconds is reported for a channel whose establishment event never
// appeared in the segment.
const UnknownSeconds = -1

// Segment is one meeting attempt: the events from the moment both roles are
// first present together until the last of the overlapping participants
// leaves.
type Segment struct {
	RoomID    string         `json:"room"`
	Events    []events.Event `json:"events"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at,omitzero"`
}

// newSegment opens a segment at the event that created the overlap.
func newSegment(ev events.Event) *Segment {
	return &Segment{
		RoomID:    ev.RoomID,
		Events:    []events.Event{ev},
		StartedAt: ev.Timestamp,
	}
}

func (s *Segment) append(ev events.Event) {
	s.Events = append(s.Events, ev)
}

// Closed reports whether the segment has ended.
func (s *Segment) Closed() bool {
	return !s.EndedAt.IsZero()
}

// Len returns the number of events in the segment.
func (s *Segment) Len() int {
	return len(s.Events)
}

// Duration is the time between StartedAt and EndedAt, or zero while open.
func (s *Segment) Duration() time.Duration {
	if !s.Closed() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// FurthestState folds every Status event's milestone by severity. The result
// depends only on the set of events, never on their order. A segment with no
// Status events returns events.MilestoneNone.
func (s *Segment) FurthestState(order *events.MilestoneOrder) events.Milestone {
	furthest := events.MilestoneNone
	for _, ev := range s.Events {
		if !ev.IsStatus() {
			continue
		}
		furthest = order.Max(furthest, ev.Milestone)
	}
	return furthest
}

// ChannelTime is the time-to-connect for one channel.
type ChannelTime struct {
	Channel string
	Seconds int // UnknownSeconds if never established
}

// Known reports whether the channel was established.
func (c ChannelTime) Known() bool {
	return c.Seconds != UnknownSeconds
}

// ConnectionTimes holds one entry per configured channel, in channel order.
type ConnectionTimes []ChannelTime

// Get returns the seconds recorded for a channel.
func (c ConnectionTimes) Get(channel string) (int, bool) {
	for _, ct := range c {
		if ct.Channel == channel {
			return ct.Seconds, true
		}
	}
	return 0, false
}

// ConnectionTimes returns, per channel, whole seconds from StartedAt to the
// first event establishing that channel. It is only meaningful when the
// furthest state is a connected milestone; otherwise ok is false.
func (s *Segment) ConnectionTimes(order *events.MilestoneOrder, channels []events.Channel) (ConnectionTimes, bool) {
	if !order.IsConnected(s.FurthestState(order)) {
		return nil, false
	}

	out := make(ConnectionTimes, len(channels))
	for i, ch := range channels {
		out[i] = ChannelTime{Channel: ch.Name, Seconds: UnknownSeconds}
		for _, ev := range s.Events {
			if ev.Timestamp.Before(s.StartedAt) || !ch.Matches(ev) {
				continue
			}
			out[i].Seconds = wholeSeconds(ev.Timestamp.Sub(s.StartedAt))
			break
		}
	}
	return out, true
}

// ExceptionTime is the time from segment start to the first failure.
type ExceptionTime struct {
	Code    string
	Seconds int
}

// Exception returns the first exception code in the segment, or "".
func (s *Segment) Exception() string {
	if ev, ok := s.firstException(); ok {
		return ev.ExceptionCode
	}
	return ""
}

// ExceptionTime reports the first exception of a segment that got as far as
// the link-clicker can go alone but never fully connected. ok is false for
// any other furthest state or when no Status carries an exception code.
func (s *Segment) ExceptionTime(order *events.MilestoneOrder) (ExceptionTime, bool) {
	if !order.IsLinkClickerBest(s.FurthestState(order)) {
		return ExceptionTime{}, false
	}
	ev, ok := s.firstException()
	if !ok {
		return ExceptionTime{}, false
	}
	return ExceptionTime{
		Code:    ev.ExceptionCode,
		Seconds: wholeSeconds(ev.Timestamp.Sub(s.StartedAt)),
	}, true
}

func (s *Segment) firstException() (events.Event, bool) {
	for _, ev := range s.Events {
		if ev.HasException() {
			return ev, true
		}
	}
	return events.Event{}, false
}

// TimeTo returns whole seconds from StartedAt to the first Status reporting
// milestone m.
func (s *Segment) TimeTo(m events.Milestone) (int, bool) {
	for _, ev := range s.Events {
		if ev.IsStatus() && ev.Milestone == m {
			return wholeSeconds(ev.Timestamp.Sub(s.StartedAt)), true
		}
	}
	return 0, false
}

// wholeSeconds truncates toward zero and clamps clock slop to zero.
func wholeSeconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// clone returns a deep copy, used when snapshotting open segments.
func (s *Segment) clone() *Segment {
	cp := *s
	cp.Events = make([]events.Event, len(s.Events))
	copy(cp.Events, s.Events)
	return &cp
}
