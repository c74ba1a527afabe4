package tool

import "fmt"

// DefaultOutputLimit caps captured tool output in bytes.
const DefaultOutputLimit = 30000

// Truncate cuts s to at most limit bytes and appends the omission marker.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 || len(s) <= limit {
		return s, false
	}
	omitted := len(s) - limit
	return s[:limit] + fmt.Sprintf("\n[output truncated: %d bytes omitted]", omitted), true
}
