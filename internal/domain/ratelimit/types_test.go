package ratelimit

import "testing"

func TestLimit_Counter(t *testing.T) {
	perAuthor := Limit{Dimension: DimensionAuthor, Match: "*", Window: WindowDay, Max: 3}
	if got := perAuthor.Counter("42").Key; got != "author:42:day" {
		t.Errorf("Counter().Key = %q, want author:42:day", got)
	}

	shared := Limit{Dimension: DimensionEndpoint, Match: "*_tweet", Window: WindowHour, Max: 10, Shared: true}
	if got := shared.Counter("post_tweet").Key; got != "endpoint:*_tweet:hour" {
		t.Errorf("shared Counter().Key = %q", got)
	}
}

func TestLimit_Applies(t *testing.T) {
	tests := []struct {
		match string
		value string
		want  bool
	}{
		{"*", "anything", true},
		{"", "anything", true},
		{"*", "", false},
		{"like", "like", true},
		{"like", "follow", false},
		{"reply_*", "reply_to_tweet", true},
	}
	for _, tt := range tests {
		l := Limit{Dimension: DimensionEngagement, Match: tt.match, Window: WindowHour, Max: 1}
		if got := l.Applies(tt.value); got != tt.want {
			t.Errorf("Limit{Match:%q}.Applies(%q) = %v, want %v", tt.match, tt.value, got, tt.want)
		}
	}
}
