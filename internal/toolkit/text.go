package toolkit

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxWeightedLength is the platform limit for a single post.
const MaxWeightedLength = 280

// urlWeight is the fixed cost of any link after t.co shortening.
const urlWeight = 23

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// lightRanges are code point ranges that count as one character.
// Everything outside them (CJK, emoji, most symbols) counts as two.
var lightRanges = [][2]rune{
	{0x0000, 0x10FF},
	{0x2000, 0x200D},
	{0x2010, 0x201F},
	{0x2032, 0x2037},
}

func runeWeight(r rune) int {
	for _, rg := range lightRanges {
		if r >= rg[0] && r <= rg[1] {
			return 1
		}
	}
	return 2
}

// WeightedLength returns the platform's weighted character count of text.
func WeightedLength(text string) int {
	n := 0
	rest := urlPattern.ReplaceAllStringFunc(text, func(string) string {
		n += urlWeight
		return ""
	})
	for _, r := range rest {
		n += runeWeight(r)
	}
	return n
}

// ValidateText checks that text is non-empty and fits in one post.
func ValidateText(op, text string) error {
	if strings.TrimSpace(text) == "" {
		return invalid(op, "text is required")
	}
	if n := WeightedLength(text); n > MaxWeightedLength {
		return &Error{
			Kind:    KindContentTooLong,
			Op:      op,
			Message: fmt.Sprintf("text is %d weighted characters, limit is %d", n, MaxWeightedLength),
		}
	}
	return nil
}
