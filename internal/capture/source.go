// Package capture turns finished network exchanges reported by a capture
// source into normalized entries.
//
// The pipeline is Listener -> body read -> Normalize -> Sink. Each finished
// request is handled exactly once; the body read is the only step that may
// block, so entries reach the sink in body-read completion order.
package capture

import (
	"context"

	"apimon/internal/types"
)

// RawHeader is a header as reported by the capture source.
type RawHeader struct {
	Name  string
	Value string
}

// PostData is the request payload as reported by the capture source.
type PostData struct {
	MimeType string
	Text     string
}

// RawRequest is the request half of a finished exchange.
type RawRequest struct {
	Method      string
	URL         string
	HTTPVersion string
	Headers     []RawHeader
	PostData    *PostData
}

// Content describes the declared response payload.
type Content struct {
	MimeType string
	Size     int64
}

// RawResponse is the response half of a finished exchange.
type RawResponse struct {
	Status     int
	StatusText string
	Headers    []RawHeader
	Content    Content

	// ReceivedTime is when the response headers arrived, in seconds since
	// the epoch. Zero when unknown.
	ReceivedTime float64
}

// ContentFunc fetches the decoded response body. Encoding is "base64" when
// the content could not be represented as text.
type ContentFunc func(ctx context.Context) (content string, encoding string, err error)

// FinishedRequest is one "request finished" notification.
type FinishedRequest struct {
	// StartTime is when the request started, in seconds since the epoch.
	// Zero when unknown.
	StartTime float64

	Request      *RawRequest
	Response     *RawResponse
	Timings      types.Timings
	ResourceType string
	Content      ContentFunc
}

// Source is an event stream of finished requests.
type Source interface {
	// Subscribe registers fn for every finished request and returns a
	// function that removes it. After unsubscribe returns fn is not called
	// again.
	Subscribe(fn func(*FinishedRequest)) (unsubscribe func())
}

// Sink receives normalized entries.
type Sink interface {
	Insert(e types.Entry)
}
