package tool

import "testing"

func TestClassifyTool(t *testing.T) {
	tests := []struct {
		name string
		want RiskLevel
	}{
		{"delete_tweet", RiskLevelCritical},
		{"unfollow_user", RiskLevelCritical},
		{"reload_policy", RiskLevelCritical},
		{"post_tweet", RiskLevelHigh},
		{"reply_to_tweet", RiskLevelHigh},
		{"post_thread", RiskLevelHigh},
		{"retweet", RiskLevelHigh},
		{"upload_media", RiskLevelHigh},
		{"orchestrate", RiskLevelHigh},
		{"generate_content", RiskLevelHigh},
		{"like_tweet", RiskLevelMedium},
		{"unlike_tweet", RiskLevelMedium},
		{"follow_user", RiskLevelMedium},
		{"bookmark_tweet", RiskLevelMedium},
		{"get_tweet", RiskLevelLow},
		{"search_tweets", RiskLevelLow},
		{"score_tweets", RiskLevelLow},
		{"GET_ME", RiskLevelLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyTool(tt.name); got != tt.want {
				t.Errorf("ClassifyTool(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

func TestRiskLevel_IsValid(t *testing.T) {
	for _, r := range []RiskLevel{RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical} {
		if !r.IsValid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if RiskLevel("EXTREME").IsValid() {
		t.Error("EXTREME should be invalid")
	}
}
