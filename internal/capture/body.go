package capture

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// MaxBodyBytes caps stored request and response bodies.
const MaxBodyBytes = 200 * 1024

// TruncatedMarker is appended to bodies cut at the byte cap.
const TruncatedMarker = "\n… (truncated)"

const encodingBase64 = "base64"

var textMimeParts = []string{
	"application/json",
	"application/xml",
	"application/javascript",
	"application/xhtml+xml",
}

// IsTextResponse reports whether a body with the given MIME type and transfer
// encoding can be shown as text.
func IsTextResponse(mimeType, encoding string) bool {
	if mimeType == "" || encoding == encodingBase64 {
		return false
	}
	lower := strings.ToLower(mimeType)
	if strings.HasPrefix(lower, "text/") {
		return true
	}
	for _, part := range textMimeParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Truncate cuts text to at most maxBytes bytes of UTF-8 without splitting a
// character and appends TruncatedMarker when anything was removed.
func Truncate(text string, maxBytes int) string {
	if maxBytes < 0 {
		maxBytes = 0
	}
	if len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	// text[cut] is the first dropped byte; if it continues a character that
	// started before the cut, back off to that character's start.
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncatedMarker
}

// BodyResult is the outcome of reading a response body.
type BodyResult struct {
	Body       string
	MimeType   string
	Unreadable bool
}

// BodyReader fetches response bodies from the capture source.
type BodyReader struct {
	MaxBytes int
	Log      *zap.Logger
}

// Read fetches the decoded response body of req. Read failures degrade to an
// empty result; they are never reported to the caller.
func (r BodyReader) Read(ctx context.Context, req *FinishedRequest) BodyResult {
	mimeType := responseMimeType(req)

	if req.Content == nil {
		return BodyResult{}
	}
	content, encoding, err := req.Content(ctx)
	if err != nil {
		if r.Log != nil {
			r.Log.Debug("read response body", zap.String("url", requestURL(req)), zap.Error(err))
		}
		return BodyResult{}
	}

	if content == "" {
		return BodyResult{MimeType: mimeType}
	}
	if !IsTextResponse(mimeType, encoding) {
		return BodyResult{MimeType: mimeType, Unreadable: true}
	}

	max := r.MaxBytes
	if max <= 0 {
		max = MaxBodyBytes
	}
	return BodyResult{MimeType: mimeType, Body: Truncate(content, max)}
}

func responseMimeType(req *FinishedRequest) string {
	if req.Response == nil {
		return ""
	}
	if req.Response.Content.MimeType != "" {
		return req.Response.Content.MimeType
	}
	return headerLookup(req.Response.Headers, "content-type")
}

func headerLookup(headers []RawHeader, name string) string {
	var v string
	for _, h := range headers {
		if strings.ToLower(h.Name) == name {
			v = h.Value
		}
	}
	return v
}

func requestURL(req *FinishedRequest) string {
	if req.Request == nil {
		return ""
	}
	return req.Request.URL
}
