package tool

import (
	"strings"
)

// criticalPatterns indicate destructive or administrative operations.
var criticalPatterns = []string{
	"delete", "remove", "unfollow", "reload", "set_mode", "admin",
}

// highPatterns indicate public content creation.
var highPatterns = []string{
	"post", "reply", "quote", "thread", "publish", "retweet", "upload",
	"queue", "orchestrate", "process", "generate",
}

// mediumPatterns indicate engagement that is easy to undo.
var mediumPatterns = []string{
	"like", "follow", "bookmark", "approve", "reject", "edit",
}

// ClassifyTool determines the risk level of a tool based on its name.
// Classification is case-insensitive and uses substring matching.
//
// Priority order (highest to lowest):
//   - CRITICAL: destructive or administrative operations
//   - HIGH: public content creation
//   - MEDIUM: reversible engagement and review actions
//   - LOW: everything else
//
// Undo variants are ranked by the pattern they contain, so "unlike_tweet"
// is MEDIUM and "unretweet" is HIGH.
func ClassifyTool(name string) RiskLevel {
	lower := strings.ToLower(name)

	for _, pattern := range criticalPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelCritical
		}
	}
	for _, pattern := range highPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelHigh
		}
	}
	for _, pattern := range mediumPatterns {
		if strings.Contains(lower, pattern) {
			return RiskLevelMedium
		}
	}
	return RiskLevelLow
}
