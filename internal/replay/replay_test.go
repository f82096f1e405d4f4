package replay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apimon/internal/types"
)

func TestReplay(t *testing.T) {
	var gotMethod, gotBody, gotHeader, gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Token")
		gotHost = r.Host
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	e := types.Entry{
		Method: http.MethodPut,
		URL:    srv.URL + "/api/thing",
		RequestHeaders: []types.Header{
			{Name: "Host", Value: "stale.example"},
			{Name: "X-Token", Value: "abc"},
			{Name: "", Value: "orphan"},
		},
		RequestBody: "payload",
	}

	res, err := Replay(context.Background(), srv.Client(), e)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.Status)
	assert.Equal(t, "done", res.Body)
	assert.Contains(t, res.Headers, types.Header{Name: "X-Reply", Value: "yes"})
	assert.Empty(t, res.Error)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "payload", gotBody)
	assert.Equal(t, "abc", gotHeader)
	assert.NotEqual(t, "stale.example", gotHost)
}

func TestReplayTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res, err := Replay(context.Background(), nil, types.Entry{Method: http.MethodGet, URL: url})
	require.NoError(t, err)
	assert.Zero(t, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestReplayBadRequest(t *testing.T) {
	_, err := Replay(context.Background(), nil, types.Entry{Method: "BAD METHOD", URL: "http://x"})
	assert.Error(t, err)
}
