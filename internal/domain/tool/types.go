// Package tool contains domain types for tool manifests and risk classification.
package tool

// RiskLevel represents the risk level of a tool.
type RiskLevel string

const (
	// RiskLevelLow indicates read-only, informational operations.
	RiskLevelLow RiskLevel = "LOW"

	// RiskLevelMedium indicates reversible engagement such as likes and bookmarks.
	RiskLevelMedium RiskLevel = "MEDIUM"

	// RiskLevelHigh indicates public content creation.
	RiskLevelHigh RiskLevel = "HIGH"

	// RiskLevelCritical indicates destructive or administrative operations.
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// IsValid returns true if the risk level is a known valid level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	default:
		return false
	}
}

// ManifestEntry is the static description of one registered tool.
// It is generated from the registry and only consumed by conformance checks.
type ManifestEntry struct {
	Name            string    `json:"name" yaml:"name"`
	Category        string    `json:"category" yaml:"category"`
	Profiles        []string  `json:"profiles" yaml:"profiles"`
	RequiresStorage bool      `json:"requires_storage" yaml:"requires_storage"`
	RequiresLLM     bool      `json:"requires_llm" yaml:"requires_llm"`
	Mutation        bool      `json:"mutation" yaml:"mutation"`
	Gated           bool      `json:"gated" yaml:"gated"`
	Risk            RiskLevel `json:"risk" yaml:"risk"`
}

// Manifest is the full generated artifact.
type Manifest struct {
	Version  int                 `json:"version" yaml:"version"`
	Tools    []ManifestEntry     `json:"tools" yaml:"tools"`
	Profiles map[string][]string `json:"profiles" yaml:"profiles"`
}
