package types

// Header is a single name/value pair. Order and duplicates are preserved.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Timings is the raw phase breakdown reported by the capture source, in
// milliseconds. Negative values mean the phase did not apply.
type Timings map[string]float64

// Timing phase keys.
const (
	PhaseBlocked = "blocked"
	PhaseDNS     = "dns"
	PhaseConnect = "connect"
	PhaseSSL     = "ssl"
	PhaseSend    = "send"
	PhaseWait    = "wait"
	PhaseReceive = "receive"
)

// Phases lists the timing keys that contribute to a summed duration.
var Phases = []string{PhaseBlocked, PhaseDNS, PhaseConnect, PhaseSend, PhaseWait, PhaseReceive, PhaseSSL}

// Entry is one captured request/response exchange.
//
// Bodies are empty when absent. ResponseUnreadable is only set when the
// response had content that could not be decoded as text, in which case
// ResponseBody is always empty.
type Entry struct {
	ID          string `json:"id"`
	TimeMs      int64  `json:"timeMs"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	HTTPVersion string `json:"httpVersion,omitempty"`

	Status     int    `json:"status"`
	StatusText string `json:"statusText,omitempty"`

	RequestHeaders  []Header `json:"requestHeaders"`
	ResponseHeaders []Header `json:"responseHeaders"`

	RequestBody        string `json:"requestBody,omitempty"`
	ResponseBody       string `json:"responseBody,omitempty"`
	ResponseMimeType   string `json:"responseMimeType,omitempty"`
	ResponseUnreadable bool   `json:"responseUnreadable,omitempty"`

	DurationMs   *float64 `json:"durationMs,omitempty"`
	ResourceType string   `json:"resourceType"`
	Timings      Timings  `json:"timings,omitempty"`
}
