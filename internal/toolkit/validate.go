package toolkit

import (
	"regexp"
	"strings"
)

const (
	minPageSize   = 5
	minSearchSize = 10
	maxPageSize   = 100
	maxQueryLen   = 512
	maxMediaIDs   = 4
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// ValidateID checks that id is a present, well-formed platform ID.
func ValidateID(op, field, id string) error {
	return requireID(op, field, id)
}

func requireID(op, field, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid(op, "%s is required", field)
	}
	if strings.ContainsAny(id, " \t\r\n/?#") {
		return invalid(op, "%s %q is malformed", field, id)
	}
	return nil
}

// normalizeUsername strips a leading '@' and checks the handle format.
func normalizeUsername(op, username string) (string, error) {
	u := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if !usernamePattern.MatchString(u) {
		return "", invalid(op, "username %q must be 1-15 letters, digits or underscores", username)
	}
	return u, nil
}

// pageSize applies the default of 10 and enforces [lower, 100].
func pageSize(op string, n, lower int) (int, error) {
	if n == 0 {
		return 10, nil
	}
	if n < lower || n > maxPageSize {
		return 0, invalid(op, "max_results must be between %d and %d, got %d", lower, maxPageSize, n)
	}
	return n, nil
}

func checkMediaIDs(op string, ids []string) error {
	if len(ids) > maxMediaIDs {
		return invalid(op, "at most %d media ids per post, got %d", maxMediaIDs, len(ids))
	}
	for _, id := range ids {
		if err := requireID(op, "media_id", id); err != nil {
			return err
		}
	}
	return nil
}
