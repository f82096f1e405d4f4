package buffer

import (
	"strconv"
	"strings"

	"apimon/internal/types"
)

// Filter is the user's view filter. All active conditions must hold.
type Filter struct {
	// Text is matched case-insensitively against "method url status".
	Text string `json:"text"`
	// OnlyErrors keeps entries with status >= 400.
	OnlyErrors bool `json:"onlyErrors"`
	// OnlyXHR keeps entries whose resource type mentions xhr or fetch.
	OnlyXHR bool `json:"onlyXhr"`
	// OnlyAPI keeps entries whose URL contains "/api".
	OnlyAPI bool `json:"onlyApi"`
}

// Match reports whether e passes every active condition of f.
func (f Filter) Match(e *types.Entry) bool {
	if f.OnlyErrors && e.Status < 400 {
		return false
	}
	if f.OnlyAPI && !strings.Contains(strings.ToLower(e.URL), "/api") {
		return false
	}
	if f.OnlyXHR {
		rt := strings.ToLower(e.ResourceType)
		if !strings.Contains(rt, "xhr") && !strings.Contains(rt, "fetch") {
			return false
		}
	}
	text := strings.ToLower(strings.TrimSpace(f.Text))
	if text == "" {
		return true
	}
	haystack := strings.ToLower(e.Method + " " + e.URL + " " + strconv.Itoa(e.Status))
	return strings.Contains(haystack, text)
}

// Apply returns the entries matching f, preserving their order.
func Apply(entries []types.Entry, f Filter) []types.Entry {
	out := make([]types.Entry, 0, len(entries))
	for i := range entries {
		if f.Match(&entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}
