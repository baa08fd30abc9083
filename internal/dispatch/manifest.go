package dispatch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/kestrel-social/kestrel/internal/domain/tool"
)

// ManifestVersion is bumped when the manifest layout changes.
const ManifestVersion = 1

// BuildManifest describes every registered tool and every profile.
func BuildManifest() tool.Manifest {
	m := tool.Manifest{Version: ManifestVersion, Profiles: make(map[string][]string)}
	for _, t := range Registry() {
		profiles := t.Profiles()
		names := make([]string, len(profiles))
		for i, p := range profiles {
			names[i] = string(p)
		}
		m.Tools = append(m.Tools, tool.ManifestEntry{
			Name:            t.Name,
			Category:        string(t.Category),
			Profiles:        names,
			RequiresStorage: t.requires(CapStorage),
			RequiresLLM:     t.requires(CapLLM),
			Mutation:        t.Mutation(),
			Gated:           t.Gated(),
			Risk:            t.Risk(),
		})
	}
	for _, p := range Profiles() {
		var names []string
		for _, t := range ToolsFor(p) {
			names = append(names, t.Name)
		}
		m.Profiles[string(p)] = names
	}
	return m
}

// MarshalManifest renders m as YAML.
func MarshalManifest(m tool.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// CheckManifest compares a committed manifest with the registry. It returns
// a readable diff, empty when they agree.
func CheckManifest(committed []byte) (string, error) {
	var want tool.Manifest
	if err := yaml.Unmarshal(committed, &want); err != nil {
		return "", fmt.Errorf("parse manifest: %w", err)
	}
	diff := cmp.Diff(want, BuildManifest())
	return strings.TrimSpace(diff), nil
}
