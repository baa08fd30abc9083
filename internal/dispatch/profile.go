// Package dispatch exposes toolkit and workflow operations as named,
// schema-validated tools. One registry holds every tool; a declarative
// profile table decides which tools a server exposes and which capabilities
// it must be built with. Every call returns exactly one Envelope.
package dispatch

import (
	"fmt"
	"slices"
)

// Profile is a named subset of tools with a fixed capability footprint.
type Profile string

const (
	ProfileUtilityReadonly Profile = "utility-readonly"
	ProfileReadonly        Profile = "readonly"
	ProfileUtilityWrite    Profile = "utility-write"
	ProfileWrite           Profile = "write"
	ProfileAdmin           Profile = "admin"
)

// Profiles lists every profile from smallest to largest.
func Profiles() []Profile {
	return []Profile{ProfileUtilityReadonly, ProfileReadonly, ProfileUtilityWrite, ProfileWrite, ProfileAdmin}
}

// ParseProfile returns the profile named s.
func ParseProfile(s string) (Profile, error) {
	p := Profile(s)
	if _, ok := profileTable[p]; !ok {
		return "", fmt.Errorf("unknown profile %q", s)
	}
	return p, nil
}

// Capability is a dependency a tool needs at call time.
type Capability string

const (
	CapProvider Capability = "provider"
	CapStorage  Capability = "storage"
	CapLLM      Capability = "llm"
	CapGateway  Capability = "gateway"
	CapAdmin    Capability = "admin"
)

// group is a set of tools that profiles include as a whole.
type group string

const (
	groupRead      group = "read"
	groupScoring   group = "scoring"
	groupHistory   group = "history"
	groupRawWrite  group = "raw_write"
	groupMutation  group = "mutation"
	groupComposite group = "composite"
	groupAdmin     group = "admin"
)

type profileDef struct {
	groups []group
	caps   []Capability
}

// profileTable is the single source of profile membership. utility-write
// carries raw_write, which calls the toolkit without the policy gateway.
var profileTable = map[Profile]profileDef{
	ProfileUtilityReadonly: {
		groups: []group{groupRead, groupScoring},
		caps:   []Capability{CapProvider},
	},
	ProfileReadonly: {
		groups: []group{groupRead, groupScoring, groupHistory},
		caps:   []Capability{CapProvider, CapStorage},
	},
	ProfileUtilityWrite: {
		groups: []group{groupRead, groupScoring, groupRawWrite},
		caps:   []Capability{CapProvider},
	},
	ProfileWrite: {
		groups: []group{groupRead, groupScoring, groupHistory, groupMutation, groupComposite},
		caps:   []Capability{CapProvider, CapStorage, CapLLM, CapGateway},
	},
	ProfileAdmin: {
		groups: []group{groupRead, groupScoring, groupHistory, groupMutation, groupComposite, groupAdmin},
		caps:   []Capability{CapProvider, CapStorage, CapLLM, CapGateway, CapAdmin},
	},
}

// Capabilities returns the capabilities a server for p acquires.
func (p Profile) Capabilities() []Capability {
	return slices.Clone(profileTable[p].caps)
}

// Gated reports whether mutations in p pass through the policy gateway.
func (p Profile) Gated() bool {
	return slices.Contains(profileTable[p].groups, groupMutation)
}

func (p Profile) includes(g group) bool {
	return slices.Contains(profileTable[p].groups, g)
}

func (p Profile) has(c Capability) bool {
	return slices.Contains(profileTable[p].caps, c)
}
