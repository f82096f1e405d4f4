package replay

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"apimon/internal/capture"
	"apimon/internal/types"
)

type Result struct {
	Status     int            `json:"status"`
	DurationMs int64          `json:"durationMs"`
	Body       string         `json:"body,omitempty"`
	Headers    []types.Header `json:"headers"`
	Error      string         `json:"error,omitempty"`
}

// hopHeaders are recomputed by the transport and must not be copied.
var hopHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"connection":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"accept-encoding":   true,
}

// Replay re-issues the captured request of e. A transport failure is reported
// in Result.Error with status 0; only an unbuildable request returns an error.
func Replay(ctx context.Context, client *http.Client, e types.Entry) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, e.Method, e.URL, strings.NewReader(e.RequestBody))
	if err != nil {
		return nil, err
	}
	for _, h := range e.RequestHeaders {
		if h.Name == "" || hopHeaders[strings.ToLower(h.Name)] {
			continue
		}
		req.Header.Add(h.Name, h.Value)
	}

	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return &Result{Status: 0, DurationMs: time.Since(start).Milliseconds(), Headers: []types.Header{}, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, capture.MaxBodyBytes+1))

	headers := make([]types.Header, 0, len(resp.Header))
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, types.Header{Name: name, Value: v})
		}
	}
	return &Result{
		Status:     resp.StatusCode,
		DurationMs: time.Since(start).Milliseconds(),
		Body:       capture.Truncate(string(body), capture.MaxBodyBytes),
		Headers:    headers,
	}, nil
}
