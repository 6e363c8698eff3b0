package utils

import (
	"fmt"
	"strings"
)

var medals = map[int]string{1: "🥇", 2: "🥈", 3: "🥉"}

// ParseUserMention returns the user id in a <@id> or <@!id> mention.
// Role and channel mentions are rejected.
func ParseUserMention(text string) (string, bool) {
	id, ok := strings.CutPrefix(text, "<@")
	if !ok {
		return "", false
	}
	id, ok = strings.CutSuffix(id, ">")
	if !ok {
		return "", false
	}
	id = strings.TrimPrefix(id, "!")
	if id == "" {
		return "", false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return "", false
		}
	}
	return id, true
}

// FormatLeaderboardEntry formats one leaderboard line; the top three get a medal
func FormatLeaderboardEntry(rank int, name, details string) string {
	prefix, ok := medals[rank]
	if !ok {
		prefix = fmt.Sprintf("%d.", rank)
	}
	return fmt.Sprintf("%s %s - %s", prefix, name, details)
}
