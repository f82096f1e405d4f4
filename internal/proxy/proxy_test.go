package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apimon/internal/capture"
	"apimon/internal/types"
)

func startProxy(t *testing.T, opts Options) (*Proxy, *http.Client, <-chan *capture.FinishedRequest) {
	t.Helper()
	p := NewProxy(opts)
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	events := make(chan *capture.FinishedRequest, 8)
	unsubscribe := p.Subscribe(func(req *capture.FinishedRequest) { events <- req })
	t.Cleanup(unsubscribe)

	proxyURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL), DisableKeepAlives: true},
		Timeout:   5 * time.Second,
	}
	t.Cleanup(client.CloseIdleConnections)
	return p, client, events
}

func next(t *testing.T, events <-chan *capture.FinishedRequest) *capture.FinishedRequest {
	t.Helper()
	select {
	case req := <-events:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("no finished request")
		return nil
	}
}

func TestProxyCapturesExchange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"echo":` + string(body) + `}`))
	}))
	defer upstream.Close()

	_, client, events := startProxy(t, Options{})

	req, err := http.NewRequest(http.MethodPost, upstream.URL+"/api/items", strings.NewReader(`{"n":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	resp, err := client.Do(req)
	require.NoError(t, err)
	relayed, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, `{"echo":{"n":1}}`, string(relayed))

	got := next(t, events)
	require.NotNil(t, got.Request)
	assert.Equal(t, http.MethodPost, got.Request.Method)
	assert.Equal(t, upstream.URL+"/api/items", got.Request.URL)
	require.NotNil(t, got.Request.PostData)
	assert.Equal(t, `{"n":1}`, got.Request.PostData.Text)
	assert.Equal(t, "fetch", got.ResourceType)
	assert.Contains(t, got.Request.Headers, capture.RawHeader{Name: "Content-Type", Value: "application/json"})

	require.NotNil(t, got.Response)
	assert.Equal(t, http.StatusCreated, got.Response.Status)
	assert.Equal(t, "Created", got.Response.StatusText)
	assert.Equal(t, "application/json", got.Response.Content.MimeType)
	assert.Greater(t, got.StartTime, 0.0)
	assert.GreaterOrEqual(t, got.Response.ReceivedTime, got.StartTime)
	assert.Contains(t, got.Timings, types.PhaseWait)

	content, encoding, err := got.Content(context.Background())
	require.NoError(t, err)
	assert.Empty(t, encoding)
	assert.Equal(t, `{"echo":{"n":1}}`, content)
}

func TestProxyBinaryContentIsBase64(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G', 0xff, 0xfe})
	}))
	defer upstream.Close()

	_, client, events := startProxy(t, Options{})
	resp, err := client.Get(upstream.URL + "/logo.png")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	got := next(t, events)
	content, encoding, err := got.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "base64", encoding)
	assert.Equal(t, "iVBOR//+", content)
	assert.Nil(t, got.Request.PostData)
}

func TestProxyRetainsBoundedBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("ü", 100)))
	}))
	defer upstream.Close()

	_, client, events := startProxy(t, Options{MaxBodyBytes: 9})
	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	relayed, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Len(t, relayed, 200, "client must receive the full body")

	got := next(t, events)
	content, encoding, err := got.Content(context.Background())
	require.NoError(t, err)
	assert.Empty(t, encoding)
	// 9 bytes of cap plus 4 bytes of slack, cut back to a whole rune.
	assert.Equal(t, strings.Repeat("ü", 6), content)
}

func TestProxyUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	_, client, events := startProxy(t, Options{})
	resp, err := client.Get(addr + "/gone")
	if err == nil {
		resp.Body.Close()
	}

	got := next(t, events)
	assert.Nil(t, got.Response)
	_, _, err = got.Content(context.Background())
	assert.Error(t, err)
}

func TestProxyUnsubscribe(t *testing.T) {
	p := NewProxy(Options{})
	calls := 0
	unsubscribe := p.Subscribe(func(*capture.FinishedRequest) { calls++ })
	p.emit(&capture.FinishedRequest{})
	unsubscribe()
	unsubscribe()
	p.emit(&capture.FinishedRequest{})
	assert.Equal(t, 1, calls)
}

func TestResourceType(t *testing.T) {
	tests := []struct {
		headers map[string]string
		want    string
	}{
		{map[string]string{"X-Requested-With": "XMLHttpRequest"}, "xhr"},
		{map[string]string{"Sec-Fetch-Dest": "empty"}, "fetch"},
		{map[string]string{"Sec-Fetch-Dest": "Script"}, "script"},
		{nil, ""},
	}
	for _, tt := range tests {
		h := http.Header{}
		for k, v := range tt.headers {
			h.Set(k, v)
		}
		assert.Equal(t, tt.want, resourceType(h))
	}
}

func TestTrimPartialRune(t *testing.T) {
	euro := []byte("€")
	assert.Equal(t, []byte("ab"), trimPartialRune(append([]byte("ab"), euro[:2]...)))
	assert.Equal(t, []byte("ab€"), trimPartialRune([]byte("ab€")))
	assert.Equal(t, []byte{}, trimPartialRune([]byte{}))
}
