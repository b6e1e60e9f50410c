package events

import (
	"errors"
	"fmt"
	"strings"
)

// Milestone is a named connection-progress checkpoint reported by a Status
// event. Severity is not a property of the Milestone itself; it comes from a
// MilestoneOrder so the order can be reconfigured without touching segment
// logic.
type Milestone string

const (
	// MilestoneNone is the furthest state of a segment with no Status events.
	MilestoneNone Milestone = "nothing"

	// MilestoneUnknown classifies a Status whose name is not configured.
	// It ranks below every configured milestone.
	MilestoneUnknown Milestone = "unknown"
)

// reservedNames cannot be configured as milestones: the first two are
// built-in buckets, the rest are fields of a published metrics record.
var reservedNames = map[Milestone]bool{
	MilestoneNone:    true,
	MilestoneUnknown: true,
	"date":           true,
	"total":          true,
}

const (
	rankNone    = 0
	rankUnknown = 1
	rankFirst   = 2
)

// DefaultMilestones is the worst-first order used when no milestone file is
// configured.
var DefaultMilestones = []string{
	"waiting",
	"starting",
	"receiving",
	"sending",
	"sendrecv",
	"connected",
	"success",
}

// DefaultConnected lists the milestones that count as a full connection.
var DefaultConnected = []string{"connected", "success"}

// DefaultLinkClickerBest is the best milestone a link-clicker reaches on its
// own, without the built-in client confirming.
const DefaultLinkClickerBest = "sendrecv"

// MilestoneOrder is a total order over milestones, worst first.
type MilestoneOrder struct {
	names           []Milestone
	rank            map[Milestone]int
	connected       map[Milestone]bool
	linkClickerBest Milestone
}

// NewMilestoneOrder builds an order from configuration. Names are matched
// case-insensitively.
func NewMilestoneOrder(worstFirst, connected []string, linkClickerBest string) (*MilestoneOrder, error) {
	if len(worstFirst) == 0 {
		return nil, errors.New("milestone order is empty")
	}

	o := &MilestoneOrder{
		names:     make([]Milestone, 0, len(worstFirst)),
		rank:      make(map[Milestone]int, len(worstFirst)+2),
		connected: make(map[Milestone]bool, len(connected)),
	}
	o.rank[MilestoneNone] = rankNone
	o.rank[MilestoneUnknown] = rankUnknown

	for i, raw := range worstFirst {
		m := Milestone(normalizeName(raw))
		if m == "" {
			return nil, fmt.Errorf("milestone %d has an empty name", i)
		}
		if reservedNames[m] {
			return nil, fmt.Errorf("milestone name %q is reserved", m)
		}
		if _, dup := o.rank[m]; dup {
			return nil, fmt.Errorf("milestone %q listed twice", m)
		}
		o.rank[m] = rankFirst + i
		o.names = append(o.names, m)
	}

	for _, raw := range connected {
		m := Milestone(normalizeName(raw))
		if !o.Contains(m) {
			return nil, fmt.Errorf("connected milestone %q is not in the order", raw)
		}
		o.connected[m] = true
	}

	best := Milestone(normalizeName(linkClickerBest))
	if !o.Contains(best) {
		return nil, fmt.Errorf("link-clicker best milestone %q is not in the order", linkClickerBest)
	}
	o.linkClickerBest = best

	return o, nil
}

// DefaultMilestoneOrder returns the built-in order.
func DefaultMilestoneOrder() *MilestoneOrder {
	o, err := NewMilestoneOrder(DefaultMilestones, DefaultConnected, DefaultLinkClickerBest)
	if err != nil {
		panic(err)
	}
	return o
}

// Contains reports whether m is one of the configured milestones.
// The sentinels are not configured milestones.
func (o *MilestoneOrder) Contains(m Milestone) bool {
	r, ok := o.rank[m]
	return ok && r >= rankFirst
}

// Rank returns the severity of m. MilestoneNone ranks lowest, then
// MilestoneUnknown, then the configured order. Any name the order does not
// know ranks as MilestoneUnknown.
func (o *MilestoneOrder) Rank(m Milestone) int {
	if r, ok := o.rank[m]; ok {
		return r
	}
	return rankUnknown
}

// Normalize maps a raw status name to a Milestone, classifying unrecognized
// or empty names as MilestoneUnknown.
func (o *MilestoneOrder) Normalize(name string) Milestone {
	m := Milestone(normalizeName(name))
	if o.Contains(m) {
		return m
	}
	return MilestoneUnknown
}

// Max returns the more severe of a and b. Unrecognized names collapse to
// MilestoneUnknown.
func (o *MilestoneOrder) Max(a, b Milestone) Milestone {
	if o.Rank(b) > o.Rank(a) {
		return o.canonical(b)
	}
	return o.canonical(a)
}

// canonical maps names the order does not know to MilestoneUnknown.
func (o *MilestoneOrder) canonical(m Milestone) Milestone {
	if _, ok := o.rank[m]; ok {
		return m
	}
	return MilestoneUnknown
}

// Buckets returns every possible furthest state in histogram order:
// MilestoneNone, MilestoneUnknown, then the configured order worst first.
func (o *MilestoneOrder) Buckets() []Milestone {
	out := make([]Milestone, 0, len(o.names)+2)
	out = append(out, MilestoneNone, MilestoneUnknown)
	return append(out, o.names...)
}

// Milestones returns the configured milestones, worst first.
func (o *MilestoneOrder) Milestones() []Milestone {
	out := make([]Milestone, len(o.names))
	copy(out, o.names)
	return out
}

// IsConnected reports whether m counts as a full connection.
func (o *MilestoneOrder) IsConnected(m Milestone) bool {
	return o.connected[m]
}

// LinkClickerBest returns the best link-clicker-only milestone.
func (o *MilestoneOrder) LinkClickerBest() Milestone {
	return o.linkClickerBest
}

// IsLinkClickerBest reports whether m is the best link-clicker-only milestone.
func (o *MilestoneOrder) IsLinkClickerBest(m Milestone) bool {
	return m == o.linkClickerBest
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Channel is a connection sub-channel whose time-to-connect is measured.
// It is established by the first Status event from Role whose raw state
// equals Marker.
type Channel struct {
	Name   string
	Role   Role
	Marker string
}

// DefaultChannels returns the audio/video and screen-share channels.
func DefaultChannels() []Channel {
	return []Channel{
		{Name: "clicker_av", Role: RoleLinkClicker, Marker: "sendrecv"},
		{Name: "clicker_screen", Role: RoleLinkClicker, Marker: "screen-sendrecv"},
		{Name: "builtin_av", Role: RoleBuiltIn, Marker: "connected"},
	}
}

// Matches reports whether ev marks this channel's establishment.
func (c Channel) Matches(ev Event) bool {
	return ev.Action == ActionStatus &&
		ev.Role == c.Role &&
		normalizeName(ev.State) == normalizeName(c.Marker)
}
