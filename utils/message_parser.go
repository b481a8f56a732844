package utils

import (
	"regexp"
	"strconv"
)

var memberRefPattern = regexp.MustCompile(`<@!?(\d{15,20})>|\b(\d{15,20})\b`)

// ParseMemberIDs extracts user ids from mentions and raw ids, in order and
// without duplicates.
func ParseMemberIDs(s string) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, match := range memberRefPattern.FindAllStringSubmatch(s, -1) {
		raw := match[1]
		if raw == "" {
			raw = match[2]
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
