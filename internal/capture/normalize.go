package capture

import (
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"apimon/internal/types"
)

// Normalizer converts finished requests into entries.
type Normalizer struct {
	MaxBodyBytes int
	Now          func() time.Time
}

// Normalize builds an Entry from req and the result of its body read. Every
// optional field of req may be missing.
func (n Normalizer) Normalize(req *FinishedRequest, body BodyResult) types.Entry {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	max := n.MaxBodyBytes
	if max <= 0 {
		max = MaxBodyBytes
	}

	e := types.Entry{
		ID:                 NewID(now()),
		RequestHeaders:     normalizeHeaders(nil),
		ResponseHeaders:    normalizeHeaders(nil),
		ResponseBody:       body.Body,
		ResponseMimeType:   body.MimeType,
		ResponseUnreadable: body.Unreadable,
		DurationMs:         DurationMs(req),
		ResourceType:       req.ResourceType,
		Timings:            req.Timings,
	}
	if e.ResponseUnreadable {
		e.ResponseBody = ""
	}

	if req.StartTime > 0 {
		e.TimeMs = int64(math.Round(req.StartTime * 1000))
	} else {
		e.TimeMs = now().UnixMilli()
	}

	if r := req.Request; r != nil {
		e.Method = r.Method
		e.URL = r.URL
		e.HTTPVersion = r.HTTPVersion
		e.RequestHeaders = normalizeHeaders(r.Headers)
		if r.PostData != nil && r.PostData.Text != "" {
			e.RequestBody = Truncate(r.PostData.Text, max)
		}
	}
	if r := req.Response; r != nil {
		e.Status = r.Status
		e.StatusText = r.StatusText
		e.ResponseHeaders = normalizeHeaders(r.Headers)
	}
	return e
}

// DurationMs derives the exchange duration in milliseconds. The delta between
// request start and response receipt wins; otherwise the non-negative timing
// phases are summed. It returns nil when neither is available.
func DurationMs(req *FinishedRequest) *float64 {
	if req.StartTime > 0 && req.Response != nil && req.Response.ReceivedTime > 0 {
		d := math.Max(0, (req.Response.ReceivedTime-req.StartTime)*1000)
		return &d
	}
	var (
		sum   float64
		found bool
	)
	for _, phase := range types.Phases {
		v, ok := req.Timings[phase]
		if !ok || v < 0 {
			continue
		}
		sum += v
		found = true
	}
	if !found {
		return nil
	}
	return &sum
}

// NewID returns a unique entry id made of the capture time in milliseconds
// and a random suffix.
func NewID(at time.Time) string {
	u := uuid.New()
	return strconv.FormatInt(at.UnixMilli(), 10) + "-" + hex.EncodeToString(u[:8])
}

func normalizeHeaders(in []RawHeader) []types.Header {
	out := make([]types.Header, 0, len(in))
	for _, h := range in {
		out = append(out, types.Header{Name: h.Name, Value: h.Value})
	}
	return out
}
