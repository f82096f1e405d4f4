package ui

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"apimon/internal/format"
	"apimon/internal/types"
)

const unreadableNotice = "Response body is binary or not readable as text."

// Detail is the rendered side panel for one entry.
type Detail struct {
	Entry           types.Entry      `json:"entry"`
	Time            string           `json:"time"`
	Duration        string           `json:"duration"`
	RequestHeaders  string           `json:"requestHeaders"`
	ResponseHeaders string           `json:"responseHeaders"`
	RequestJSON     *format.JSONText `json:"requestJson,omitempty"`
	ResponseJSON    *format.JSONText `json:"responseJson,omitempty"`
	Notice          string           `json:"notice,omitempty"`
	Curl            string           `json:"curl"`
	ResponseSize    string           `json:"responseSize"`
}

func renderDetail(e types.Entry) Detail {
	d := Detail{
		Entry:           e,
		Time:            format.Time(e.TimeMs),
		Duration:        format.Duration(e.DurationMs),
		RequestHeaders:  format.HeadersText(e.RequestHeaders),
		ResponseHeaders: format.HeadersText(e.ResponseHeaders),
		Curl:            format.Curl(&e),
		ResponseSize:    format.Size(len(e.ResponseBody)),
	}
	if e.RequestBody != "" {
		j := format.PrettyJSON(e.RequestBody)
		d.RequestJSON = &j
	}
	if e.ResponseBody != "" {
		j := format.PrettyJSON(e.ResponseBody)
		d.ResponseJSON = &j
	}
	if e.ResponseUnreadable {
		d.Notice = unreadableNotice
	}
	return d
}

// detailCache memoizes rendered details. Entries never change after capture,
// so the id alone is a valid key until the buffer is cleared.
type detailCache struct {
	cache *lru.Cache[string, Detail]
}

func newDetailCache(size int) (*detailCache, error) {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New[string, Detail](size)
	if err != nil {
		return nil, err
	}
	return &detailCache{cache: c}, nil
}

func (c *detailCache) get(e types.Entry) Detail {
	if d, ok := c.cache.Get(e.ID); ok {
		return d
	}
	d := renderDetail(e)
	c.cache.Add(e.ID, d)
	return d
}

func (c *detailCache) purge() { c.cache.Purge() }
