// Package format renders captured entries for display and reproduction.
package format

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/pretty"

	"apimon/internal/types"
)

// Placeholder is shown for values that are not available.
const Placeholder = "-"

// NoHeaders is shown for an empty header list.
const NoHeaders = "(none)"

var whitespace = regexp.MustCompile(`\s+`)

var prettyOptions = &pretty.Options{Width: 0, Prefix: "", Indent: "  ", SortKeys: false}

// Duration renders a duration in whole milliseconds.
func Duration(ms *float64) string {
	if ms == nil {
		return Placeholder
	}
	return strconv.FormatFloat(math.Round(*ms), 'f', 0, 64)
}

// Time renders a capture timestamp as a 24-hour local clock time.
func Time(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}

// Size renders a body length in human units.
func Size(n int) string {
	return humanize.IBytes(uint64(n))
}

// JSONText is the result of PrettyJSON.
type JSONText struct {
	Text    string `json:"text"`
	IsValid bool   `json:"isValid"`
}

// PrettyJSON re-indents text with two spaces when it is valid JSON. Invalid
// input is returned verbatim with IsValid false.
func PrettyJSON(text string) JSONText {
	src := []byte(text)
	if !json.Valid(src) {
		return JSONText{Text: text}
	}
	out := pretty.PrettyOptions(src, prettyOptions)
	return JSONText{Text: string(bytes.TrimSuffix(out, []byte("\n"))), IsValid: true}
}

// Curl reproduces e as a curl command line. Header values and the URL are
// quoted but not escaped, so single quotes in them yield an invalid command.
func Curl(e *types.Entry) string {
	parts := []string{"curl", "-X", e.Method}
	for _, h := range e.RequestHeaders {
		name := whitespace.ReplaceAllString(h.Name, " ")
		value := whitespace.ReplaceAllString(h.Value, " ")
		parts = append(parts, "-H", "'"+name+": "+value+"'")
	}
	if e.RequestBody != "" {
		body := strings.ReplaceAll(e.RequestBody, "'", `'\''`)
		parts = append(parts, "--data", "'"+body+"'")
	}
	parts = append(parts, "'"+e.URL+"'")
	return strings.Join(parts, " ")
}

// HeadersToMap indexes headers by lowercase name. Later duplicates win.
func HeadersToMap(headers []types.Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		m[strings.ToLower(h.Name)] = h.Value
	}
	return m
}

// HeadersText renders one "name: value" line per header.
func HeadersText(headers []types.Header) string {
	if len(headers) == 0 {
		return NoHeaders
	}
	lines := make([]string, 0, len(headers))
	for _, h := range headers {
		lines = append(lines, h.Name+": "+h.Value)
	}
	return strings.Join(lines, "\n")
}
