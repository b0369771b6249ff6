package ratelimit

import (
	"strconv"
	"strings"
)

// sanitizeIdentifier strips characters that would collide with the key
// separators used by the counter store.
func sanitizeIdentifier(identifier string) string {
	if identifier == "" {
		return "anonymous"
	}
	r := strings.NewReplacer(":", "_", " ", "_", "\n", "_", "\r", "_")
	return r.Replace(identifier)
}

// counterKey builds the store key for a rule and identifier.
func counterKey(prefix, ruleID, identifier string) string {
	return prefix + ":" + ruleID + ":" + sanitizeIdentifier(identifier)
}

// windowKey appends the aligned window start so each window gets its own
// counter and expired windows simply age out via TTL.
func windowKey(prefix, ruleID, identifier string, windowStart int64) string {
	return counterKey(prefix, ruleID, identifier) + ":" + strconv.FormatInt(windowStart, 10)
}
