package capture

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apimon/internal/types"
)

var fixedNow = time.UnixMilli(1_700_000_000_123)

func normalizer() Normalizer {
	return Normalizer{Now: func() time.Time { return fixedNow }}
}

func TestDurationPrefersReceivedDelta(t *testing.T) {
	req := &FinishedRequest{
		StartTime: 1.000,
		Response:  &RawResponse{ReceivedTime: 1.250},
		Timings:   types.Timings{types.PhaseWait: 999},
	}
	got := DurationMs(req)
	require.NotNil(t, got)
	assert.Equal(t, 250.0, *got)
}

func TestDurationNeverNegative(t *testing.T) {
	req := &FinishedRequest{StartTime: 2, Response: &RawResponse{ReceivedTime: 1}}
	got := DurationMs(req)
	require.NotNil(t, got)
	assert.Equal(t, 0.0, *got)
}

func TestDurationSumsTimings(t *testing.T) {
	req := &FinishedRequest{
		StartTime: 1.000,
		Timings: types.Timings{
			types.PhaseWait:    10,
			types.PhaseReceive: 5,
			types.PhaseDNS:     -1,
			"_queued":          100,
		},
	}
	got := DurationMs(req)
	require.NotNil(t, got)
	assert.Equal(t, 15.0, *got)
}

func TestDurationUndefined(t *testing.T) {
	assert.Nil(t, DurationMs(&FinishedRequest{}))
	assert.Nil(t, DurationMs(&FinishedRequest{Timings: types.Timings{types.PhaseSSL: -1}}))
}

func TestNormalizeDefaults(t *testing.T) {
	e := normalizer().Normalize(&FinishedRequest{}, BodyResult{})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, fixedNow.UnixMilli(), e.TimeMs)
	assert.Empty(t, e.Method)
	assert.Empty(t, e.URL)
	assert.Zero(t, e.Status)
	assert.NotNil(t, e.RequestHeaders)
	assert.NotNil(t, e.ResponseHeaders)
	assert.Empty(t, e.RequestHeaders)
	assert.Nil(t, e.DurationMs)
}

func TestNormalizeFull(t *testing.T) {
	req := &FinishedRequest{
		StartTime: 1_700_000_000.5,
		Request: &RawRequest{
			Method:      "POST",
			URL:         "https://example.com/api/users",
			HTTPVersion: "HTTP/1.1",
			Headers:     []RawHeader{{Name: "Content-Type", Value: "application/json"}, {Name: "X-Empty"}},
			PostData:    &PostData{MimeType: "application/json", Text: `{"name":"a"}`},
		},
		Response: &RawResponse{
			Status:       201,
			StatusText:   "Created",
			Headers:      []RawHeader{{Value: "orphan"}},
			ReceivedTime: 1_700_000_000.75,
		},
		ResourceType: "fetch",
		Timings:      types.Timings{types.PhaseWait: 200},
	}
	body := BodyResult{Body: `{"id":1}`, MimeType: "application/json"}

	e := normalizer().Normalize(req, body)

	assert.Equal(t, int64(1_700_000_000_500), e.TimeMs)
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "https://example.com/api/users", e.URL)
	assert.Equal(t, "HTTP/1.1", e.HTTPVersion)
	assert.Equal(t, []types.Header{{Name: "Content-Type", Value: "application/json"}, {Name: "X-Empty", Value: ""}}, e.RequestHeaders)
	assert.Equal(t, []types.Header{{Name: "", Value: "orphan"}}, e.ResponseHeaders)
	assert.Equal(t, `{"name":"a"}`, e.RequestBody)
	assert.Equal(t, 201, e.Status)
	assert.Equal(t, "Created", e.StatusText)
	assert.Equal(t, `{"id":1}`, e.ResponseBody)
	assert.Equal(t, "application/json", e.ResponseMimeType)
	assert.False(t, e.ResponseUnreadable)
	assert.Equal(t, "fetch", e.ResourceType)
	require.NotNil(t, e.DurationMs)
	assert.Equal(t, 250.0, *e.DurationMs)
	assert.Equal(t, types.Timings{types.PhaseWait: 200}, e.Timings)
}

func TestNormalizeTruncatesRequestBody(t *testing.T) {
	n := Normalizer{MaxBodyBytes: 8}
	req := &FinishedRequest{Request: &RawRequest{PostData: &PostData{Text: strings.Repeat("a", 20)}}}

	e := n.Normalize(req, BodyResult{})
	assert.Equal(t, "aaaaaaaa"+TruncatedMarker, e.RequestBody)
}

func TestNormalizeUnreadableHasNoBody(t *testing.T) {
	e := normalizer().Normalize(&FinishedRequest{}, BodyResult{Body: "junk", Unreadable: true})
	assert.True(t, e.ResponseUnreadable)
	assert.Empty(t, e.ResponseBody)
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID(fixedNow)
		require.False(t, seen[id], "duplicate id %s", id)
		require.True(t, strings.HasPrefix(id, "1700000000123-"))
		seen[id] = true
	}
}
