package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedEvent matches every *MalformedEventError.
var ErrMalformedEvent = errors.New("malformed event")

// MalformedEventError describes a raw record that cannot become an Event.
// Callers log and skip it; a single bad record never aborts a period.
type MalformedEventError struct {
	RoomID string
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.RoomID != "" {
		return fmt.Sprintf("malformed event in room %s: %s: %s", e.RoomID, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed event: %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedEvent) true.
func (e *MalformedEventError) Is(target error) bool {
	return target == ErrMalformedEvent
}

// Event is one typed signaling record.
type Event struct {
	RoomID        string    `json:"room"`
	Role          Role      `json:"role"`
	UserType      string    `json:"user_type,omitempty"`
	Action        Action    `json:"action"`
	Milestone     Milestone `json:"milestone,omitempty"` // Status only
	State         string    `json:"state,omitempty"`     // raw status name
	Timestamp     time.Time `json:"ts"`
	ExceptionCode string    `json:"exception,omitempty"`
}

// IsStatus reports whether the event carries a milestone.
func (e Event) IsStatus() bool {
	return e.Action == ActionStatus
}

// HasException reports whether the event signals a negotiation failure.
func (e Event) HasException() bool {
	return e.Action == ActionStatus && e.ExceptionCode != ""
}

// String returns a compact form for logs.
func (e Event) String() string {
	if e.IsStatus() {
		return fmt.Sprintf("%s %s %s(%s) @%s", e.RoomID, e.Role, e.Action, e.Milestone, e.Timestamp.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s %s %s @%s", e.RoomID, e.Role, e.Action, e.Timestamp.Format(time.RFC3339))
}

// New returns a presence event (join, refresh or leave).
func New(roomID string, role Role, action Action, ts time.Time) Event {
	return Event{RoomID: roomID, Role: role, Action: action, Timestamp: ts}
}

// NewStatus returns a Status event for a configured milestone.
func NewStatus(roomID string, role Role, m Milestone, ts time.Time) Event {
	return Event{
		RoomID:    roomID,
		Role:      role,
		Action:    ActionStatus,
		Milestone: m,
		State:     string(m),
		Timestamp: ts,
	}
}

// WithException returns a copy of a Status event carrying an exception code.
func (e Event) WithException(code string) Event {
	e.ExceptionCode = code
	return e
}

// RawValue holds a JSON scalar that may arrive as a number or a string.
// The textual form is kept; interpretation happens during classification.
type RawValue string

// UnmarshalJSON accepts strings, numbers and null.
func (v *RawValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*v = RawValue(n.String())
	return nil
}

// Record is a raw signaling record as stored in the search index.
type Record struct {
	RoomToken string   `json:"roomToken"`
	Action    string   `json:"action"`
	State     string   `json:"state,omitempty"`
	UserType  string   `json:"userType"`
	Timestamp RawValue `json:"Timestamp"`
	Exception RawValue `json:"exception,omitempty"`
}

// Classifier turns raw records into Events.
type Classifier struct {
	order *MilestoneOrder
	roles RoleMap
}

// NewClassifier creates a classifier. A nil RoleMap selects DefaultRoleMap.
func NewClassifier(order *MilestoneOrder, roles RoleMap) *Classifier {
	if roles == nil {
		roles = DefaultRoleMap()
	}
	return &Classifier{order: order, roles: roles}
}

// Order returns the classifier's milestone order.
func (c *Classifier) Order() *MilestoneOrder {
	return c.order
}

// Classify converts one record. Status events with unrecognized or missing
// state names classify as MilestoneUnknown rather than failing.
func (c *Classifier) Classify(r Record) (Event, error) {
	room := strings.TrimSpace(r.RoomToken)
	if room == "" {
		return Event{}, &MalformedEventError{Field: "roomToken", Reason: "missing"}
	}

	action, ok := ParseAction(r.Action)
	if !ok {
		return Event{}, &MalformedEventError{RoomID: room, Field: "action", Reason: fmt.Sprintf("unknown action %q", r.Action)}
	}

	role, ok := c.roles.Lookup(r.UserType)
	if !ok {
		return Event{}, &MalformedEventError{RoomID: room, Field: "userType", Reason: fmt.Sprintf("unmapped user type %q", r.UserType)}
	}

	ts, err := ParseTimestamp(string(r.Timestamp))
	if err != nil {
		return Event{}, &MalformedEventError{RoomID: room, Field: "Timestamp", Reason: err.Error()}
	}

	ev := Event{
		RoomID:    room,
		Role:      role,
		UserType:  r.UserType,
		Action:    action,
		Timestamp: ts,
	}
	if action == ActionStatus {
		ev.State = strings.TrimSpace(r.State)
		ev.Milestone = c.order.Normalize(r.State)
		ev.ExceptionCode = strings.TrimSpace(string(r.Exception))
	}
	return ev, nil
}

// ParseTimestamp parses epoch numbers (seconds, milliseconds, microseconds or
// nanoseconds, chosen by magnitude) or RFC 3339 strings. Results are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("missing")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(float64(n), n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("invalid number %q", s)
		}
		return fromEpoch(f, 0), nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	return t.UTC(), nil
}

// fromEpoch picks the unit by magnitude. exact carries the integer value when
// available so nanosecond inputs keep full precision.
func fromEpoch(f float64, exact int64) time.Time {
	abs := math.Abs(f)
	switch {
	case abs >= 1e17:
		if exact != 0 {
			return time.Unix(0, exact).UTC()
		}
		return time.Unix(0, int64(f)).UTC()
	case abs >= 1e14:
		return time.UnixMicro(int64(f)).UTC()
	case abs >= 1e11:
		return time.UnixMilli(int64(f)).UTC()
	default:
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
}
