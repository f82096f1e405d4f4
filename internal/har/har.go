package har

import (
	"net/url"
	"sort"
	"time"

	"apimon/internal/format"
	"apimon/internal/types"
)

type Document struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Entry struct {
	StartedDateTime time.Time `json:"startedDateTime"`
	Time            float64   `json:"time"` // ms
	Request         Req       `json:"request"`
	Response        Resp      `json:"response"`
	Cache           struct{}  `json:"cache"`
	Timings         Timings   `json:"timings"`
}

type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

type Req struct {
	Method      string    `json:"method"`
	URL         string    `json:"url"`
	HTTPVersion string    `json:"httpVersion"`
	Headers     []Header  `json:"headers"`
	QueryString []Header  `json:"queryString"`
	Cookies     []Header  `json:"cookies"`
	PostData    *PostData `json:"postData,omitempty"`
	HeadersSize int       `json:"headersSize"`
	BodySize    int       `json:"bodySize"`
}

type Resp struct {
	Status      int      `json:"status"`
	StatusText  string   `json:"statusText"`
	HTTPVersion string   `json:"httpVersion"`
	Headers     []Header `json:"headers"`
	Cookies     []Header `json:"cookies"`
	Content     Content  `json:"content"`
	RedirectURL string   `json:"redirectURL"`
	HeadersSize int      `json:"headersSize"`
	BodySize    int      `json:"bodySize"`
}

type Timings struct {
	Blocked float64 `json:"blocked"`
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
	SSL     float64 `json:"ssl"`
}

const unreadableComment = "body not captured: binary or encoded content"

// FromEntries converts entries, newest first, into a HAR 1.2 document.
func FromEntries(in []types.Entry, version string) Document {
	out := Document{
		Log: Log{
			Version: "1.2",
			Creator: Creator{Name: "apimon", Version: version},
			Entries: make([]Entry, 0, len(in)),
		},
	}
	for _, e := range in {
		httpVersion := e.HTTPVersion
		if httpVersion == "" {
			httpVersion = "HTTP/1.1"
		}
		var total float64
		if e.DurationMs != nil {
			total = *e.DurationMs
		}

		req := Req{
			Method:      e.Method,
			URL:         e.URL,
			HTTPVersion: httpVersion,
			Headers:     toH(e.RequestHeaders),
			QueryString: query(e.URL),
			Cookies:     []Header{},
			HeadersSize: -1,
			BodySize:    len(e.RequestBody),
		}
		if e.RequestBody != "" {
			req.PostData = &PostData{MimeType: format.HeadersToMap(e.RequestHeaders)["content-type"], Text: e.RequestBody}
		}

		content := Content{Size: len(e.ResponseBody), MimeType: e.ResponseMimeType, Text: e.ResponseBody}
		if e.ResponseUnreadable {
			content.Size = -1
			content.Comment = unreadableComment
		}

		out.Log.Entries = append(out.Log.Entries, Entry{
			StartedDateTime: time.UnixMilli(e.TimeMs).UTC(),
			Time:            total,
			Request:         req,
			Response: Resp{
				Status:      e.Status,
				StatusText:  e.StatusText,
				HTTPVersion: httpVersion,
				Headers:     toH(e.ResponseHeaders),
				Cookies:     []Header{},
				Content:     content,
				HeadersSize: -1,
				BodySize:    -1,
			},
			Timings: timings(e.Timings),
		})
	}
	return out
}

func toH(in []types.Header) []Header {
	out := make([]Header, 0, len(in))
	for _, h := range in {
		out = append(out, Header{Name: h.Name, Value: h.Value})
	}
	return out
}

func query(raw string) []Header {
	out := []Header{}
	u, err := url.Parse(raw)
	if err != nil {
		return out
	}
	q := u.Query()
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range q[name] {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}

func timings(t types.Timings) Timings {
	get := func(phase string) float64 {
		if v, ok := t[phase]; ok {
			return v
		}
		return -1
	}
	out := Timings{
		Blocked: get(types.PhaseBlocked),
		DNS:     get(types.PhaseDNS),
		Connect: get(types.PhaseConnect),
		Send:    get(types.PhaseSend),
		Wait:    get(types.PhaseWait),
		Receive: get(types.PhaseReceive),
		SSL:     get(types.PhaseSSL),
	}
	// send, wait and receive are required to be non-negative.
	out.Send = max(out.Send, 0)
	out.Wait = max(out.Wait, 0)
	out.Receive = max(out.Receive, 0)
	return out
}
