package workflow

import (
	"fmt"
	"strings"
	"unicode"
)

// SafetyConfig configures the draft safety filter.
type SafetyConfig struct {
	// BannedPhrases are matched case-insensitively anywhere in the text.
	BannedPhrases []string `json:"banned_phrases" mapstructure:"banned_phrases"`
	// DuplicateThreshold is the trigram Jaccard similarity at or above which
	// a draft counts as a near duplicate. Zero means 0.8.
	DuplicateThreshold float64 `json:"duplicate_threshold" mapstructure:"duplicate_threshold"`
	// RecentDrafts is how many stored drafts a new draft is compared with.
	// Zero means 50.
	RecentDrafts int `json:"recent_drafts" mapstructure:"recent_drafts"`
}

type safetyFilter struct {
	banned    []string
	threshold float64
	recent    int
}

func newSafetyFilter(cfg SafetyConfig) safetyFilter {
	f := safetyFilter{threshold: cfg.DuplicateThreshold, recent: cfg.RecentDrafts}
	if f.threshold <= 0 {
		f.threshold = 0.8
	}
	if f.recent <= 0 {
		f.recent = 50
	}
	for _, p := range cfg.BannedPhrases {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			f.banned = append(f.banned, p)
		}
	}
	return f
}

// bannedPhrase returns the first banned phrase text contains.
func (f safetyFilter) bannedPhrase(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, p := range f.banned {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// check returns a rejection reason, or "" when text passes.
func (f safetyFilter) check(text string, recent []string) string {
	if p, ok := f.bannedPhrase(text); ok {
		return fmt.Sprintf("banned phrase %q", p)
	}
	grams := trigrams(text)
	for _, r := range recent {
		if sim := jaccard(grams, trigrams(r)); sim >= f.threshold {
			return fmt.Sprintf("near duplicate of a recent draft (similarity %.2f)", sim)
		}
	}
	return ""
}

// Similarity is the trigram Jaccard similarity of a and b in [0,1].
func Similarity(a, b string) float64 {
	return jaccard(trigrams(a), trigrams(b))
}

// normalize lowercases, drops punctuation and collapses whitespace.
func normalize(s string) []rune {
	var out []rune
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			out = append(out, r)
			space = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			if !space {
				out = append(out, ' ')
				space = true
			}
		}
	}
	if n := len(out); n > 0 && out[n-1] == ' ' {
		out = out[:n-1]
	}
	return out
}

func trigrams(s string) map[string]struct{} {
	runes := normalize(s)
	set := make(map[string]struct{})
	if len(runes) == 0 {
		return set
	}
	if len(runes) < 3 {
		set[string(runes)] = struct{}{}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
