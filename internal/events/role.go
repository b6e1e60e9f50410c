// Package events provides the typed signaling event model for room-progress.
//
// Raw records harvested from the search index are turned into Events by a
// Classifier. The Classifier owns the two pieces of static configuration the
// core depends on: the MilestoneOrder and the RoleMap.
package events

import (
	"fmt"
	"strings"
)

// Role is the kind of participant whose co-presence is measured.
type Role int

const (
	// RoleLinkClicker is the link-based client.
	RoleLinkClicker Role = iota

	// RoleBuiltIn is the embedded client, registered or not.
	RoleBuiltIn
)

// String returns the canonical name for the role.
func (r Role) String() string {
	switch r {
	case RoleLinkClicker:
		return "link_clicker"
	case RoleBuiltIn:
		return "built_in"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so Role can be used as a
// JSON map key in persisted room state.
func (r Role) MarshalText() ([]byte, error) {
	if r != RoleLinkClicker && r != RoleBuiltIn {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseRole parses a canonical role name.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "link_clicker", "link-clicker", "linkclicker":
		return RoleLinkClicker, nil
	case "built_in", "built-in", "builtin":
		return RoleBuiltIn, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// Action is the signaling action of a record.
type Action int

const (
	ActionJoin Action = iota
	ActionRefresh
	ActionLeave
	ActionStatus
)

var actionNames = map[Action]string{
	ActionJoin:    "join",
	ActionRefresh: "refresh",
	ActionLeave:   "leave",
	ActionStatus:  "status",
}

// String returns the wire name of the action.
func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("invalid action %d", int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	action, ok := ParseAction(string(text))
	if !ok {
		return fmt.Errorf("unknown action %q", string(text))
	}
	*a = action
	return nil
}

// ParseAction parses a wire action name, case-insensitively.
func ParseAction(s string) (Action, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	for action, n := range actionNames {
		if n == name {
			return action, true
		}
	}
	return 0, false
}

// RoleMap maps raw user types (lower-cased) to tracked roles.
type RoleMap map[string]Role

// DefaultRoleMap returns the user types emitted by the signaling server.
func DefaultRoleMap() RoleMap {
	return RoleMap{
		"link-clicker": RoleLinkClicker,
		"registered":   RoleBuiltIn,
		"unregistered": RoleBuiltIn,
	}
}

// Lookup resolves a raw user type.
func (m RoleMap) Lookup(userType string) (Role, bool) {
	role, ok := m[strings.ToLower(strings.TrimSpace(userType))]
	return role, ok
}
