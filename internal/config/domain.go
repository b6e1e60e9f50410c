package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-room-progress/internal/events"
)

// Domain is the deployment-specific vocabulary: which milestones exist and
// in what order, which channels are timed, and how raw user types map to
// roles.
type Domain struct {
	Order    *events.MilestoneOrder
	Channels []events.Channel
	Roles    events.RoleMap
}

// DefaultDomain returns the built-in milestone order, channels and roles.
func DefaultDomain() *Domain {
	return &Domain{
		Order:    events.DefaultMilestoneOrder(),
		Channels: events.DefaultChannels(),
		Roles:    events.DefaultRoleMap(),
	}
}

// domainFile is the YAML layout of a milestones file. Omitted sections keep
// their defaults.
type domainFile struct {
	Milestones      []string          `yaml:"milestones"` // worst first
	Connected       []string          `yaml:"connected"`
	LinkClickerBest string            `yaml:"link_clicker_best"`
	Channels        []channelEntry    `yaml:"channels"`
	Roles           map[string]string `yaml:"roles"`
}

type channelEntry struct {
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Marker string `yaml:"marker"`
}

// LoadDomain reads a milestones file. An empty path yields DefaultDomain.
func LoadDomain(path string) (*Domain, error) {
	if path == "" {
		return DefaultDomain(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading milestones file: %w", err)
	}
	d, err := ParseDomain(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDomain parses YAML milestone configuration.
func ParseDomain(data []byte) (*Domain, error) {
	var f domainFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing milestones: %w", err)
	}

	milestones := f.Milestones
	if len(milestones) == 0 {
		milestones = events.DefaultMilestones
	}
	connected := f.Connected
	if len(connected) == 0 {
		connected = events.DefaultConnected
	}
	best := f.LinkClickerBest
	if best == "" {
		best = events.DefaultLinkClickerBest
	}

	var errs []error
	order, err := events.NewMilestoneOrder(milestones, connected, best)
	if err != nil {
		errs = append(errs, ValidationError{Field: "milestones", Message: err.Error()})
	}

	channels := events.DefaultChannels()
	if len(f.Channels) > 0 {
		channels = channels[:0:0]
		seen := make(map[string]bool, len(f.Channels))
		for i, ch := range f.Channels {
			role, err := events.ParseRole(ch.Role)
			switch {
			case strings.TrimSpace(ch.Name) == "":
				errs = append(errs, ValidationError{Field: fmt.Sprintf("channels[%d].name", i), Message: "is required"})
			case seen[ch.Name]:
				errs = append(errs, ValidationError{Field: fmt.Sprintf("channels[%d].name", i), Message: fmt.Sprintf("duplicate channel %q", ch.Name)})
			case err != nil:
				errs = append(errs, ValidationError{Field: fmt.Sprintf("channels[%d].role", i), Message: err.Error()})
			case strings.TrimSpace(ch.Marker) == "":
				errs = append(errs, ValidationError{Field: fmt.Sprintf("channels[%d].marker", i), Message: "is required"})
			default:
				seen[ch.Name] = true
				channels = append(channels, events.Channel{Name: ch.Name, Role: role, Marker: ch.Marker})
			}
		}
	}

	roles := events.DefaultRoleMap()
	if len(f.Roles) > 0 {
		roles = make(events.RoleMap, len(f.Roles))
		for userType, name := range f.Roles {
			role, err := events.ParseRole(name)
			if err != nil {
				errs = append(errs, ValidationError{Field: "roles." + userType, Message: err.Error()})
				continue
			}
			roles[strings.ToLower(strings.TrimSpace(userType))] = role
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Domain{Order: order, Channels: channels, Roles: roles}, nil
}
