// Package proxy is a forwarding HTTP proxy that reports every exchange it
// relays as a finished request.
package proxy

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"apimon/internal/capture"
)

var errNoResponse = errors.New("proxy: no response from upstream")

type Options struct {
	// MITM decrypts HTTPS traffic with goproxy's CA so it can be captured.
	MITM bool
	// MaxBodyBytes bounds how much of each response body is retained.
	MaxBodyBytes int
	Log          *zap.Logger
}

// Proxy implements http.Handler and capture.Source.
type Proxy struct {
	srv     *goproxy.ProxyHttpServer
	maxBody int
	log     *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[uint64]func(*capture.FinishedRequest)
	next     uint64
}

func NewProxy(opts Options) *Proxy {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = capture.MaxBodyBytes
	}

	srv := goproxy.NewProxyHttpServer()
	srv.Logger = zap.NewStdLog(log.Named("goproxy"))
	srv.Verbose = log.Core().Enabled(zapcore.DebugLevel)

	p := &Proxy{
		srv:      srv,
		maxBody:  maxBody,
		log:      log,
		now:      time.Now,
		handlers: make(map[uint64]func(*capture.FinishedRequest)),
	}
	if opts.MITM {
		srv.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	}
	srv.OnRequest().DoFunc(p.onRequest)
	srv.OnResponse().DoFunc(p.onResponse)
	return p
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.srv.ServeHTTP(w, r)
}

func (p *Proxy) Subscribe(fn func(*capture.FinishedRequest)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.handlers[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.handlers, id)
			p.mu.Unlock()
		})
	}
}

func (p *Proxy) emit(req *capture.FinishedRequest) {
	p.mu.RLock()
	handlers := make([]func(*capture.FinishedRequest), 0, len(p.handlers))
	for _, fn := range p.handlers {
		handlers = append(handlers, fn)
	}
	p.mu.RUnlock()

	for _, fn := range handlers {
		fn(req)
	}
}

type exchange struct {
	start        time.Time
	req          *capture.RawRequest
	resourceType string
	trace        *phaseTrace
}

func (p *Proxy) onRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	ex := &exchange{
		start:        p.now(),
		resourceType: resourceType(r.Header),
		trace:        &phaseTrace{now: p.now},
	}
	ex.req = &capture.RawRequest{
		Method:      r.Method,
		URL:         r.URL.String(),
		HTTPVersion: r.Proto,
		Headers:     rawHeaders(r.Host, r.Header),
	}

	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			ctx.Warnf("read request body: %v", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(data))
		if len(data) > 0 && utf8.Valid(data) {
			ex.req.PostData = &capture.PostData{
				MimeType: r.Header.Get("Content-Type"),
				Text:     string(data),
			}
		}
	}

	ctx.UserData = ex
	r = r.WithContext(httptrace.WithClientTrace(r.Context(), ex.trace.clientTrace()))
	return r, nil
}

func (p *Proxy) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	ex, ok := ctx.UserData.(*exchange)
	if !ok {
		return resp
	}
	received := p.now()

	if resp == nil {
		err := ctx.Error
		if err == nil {
			err = errNoResponse
		}
		p.log.Debug("upstream failed", zap.String("url", ex.req.URL), zap.Error(err))
		p.emit(&capture.FinishedRequest{
			StartTime:    seconds(ex.start),
			Request:      ex.req,
			Timings:      ex.trace.timings(time.Time{}),
			ResourceType: ex.resourceType,
			Content: func(context.Context) (string, string, error) {
				return "", "", err
			},
		})
		return resp
	}

	raw := &capture.RawResponse{
		Status:       resp.StatusCode,
		StatusText:   statusText(resp),
		Headers:      rawHeaders("", resp.Header),
		Content:      capture.Content{MimeType: resp.Header.Get("Content-Type"), Size: resp.ContentLength},
		ReceivedTime: seconds(received),
	}
	finish := func(data []byte, truncated bool) {
		if truncated {
			data = trimPartialRune(data)
		}
		p.emit(&capture.FinishedRequest{
			StartTime:    seconds(ex.start),
			Request:      ex.req,
			Response:     raw,
			Timings:      ex.trace.timings(p.now()),
			ResourceType: ex.resourceType,
			Content:      contentOf(data),
		})
	}

	// Upgraded connections keep their body as a raw stream.
	if resp.Body == nil || resp.StatusCode == http.StatusSwitchingProtocols {
		finish(nil, false)
		return resp
	}
	// One extra rune of slack lets the body reader see that the cap was
	// exceeded and mark the text as truncated.
	resp.Body = &captureBody{rc: resp.Body, limit: p.maxBody + utf8.UTFMax, done: finish}
	return resp
}

// captureBody relays a response body while retaining its first limit bytes.
// done runs once, when the body hits EOF, fails, or is closed.
type captureBody struct {
	rc        io.ReadCloser
	buf       bytes.Buffer
	limit     int
	truncated bool
	once      sync.Once
	done      func(data []byte, truncated bool)
}

func (c *captureBody) Read(b []byte) (int, error) {
	n, err := c.rc.Read(b)
	if n > 0 {
		c.keep(b[:n])
	}
	if err != nil {
		c.finish()
	}
	return n, err
}

func (c *captureBody) Close() error {
	err := c.rc.Close()
	c.finish()
	return err
}

func (c *captureBody) keep(b []byte) {
	room := c.limit - c.buf.Len()
	if len(b) > room {
		b = b[:max(room, 0)]
		c.truncated = true
	}
	c.buf.Write(b)
}

func (c *captureBody) finish() {
	c.once.Do(func() {
		c.done(c.buf.Bytes(), c.truncated)
	})
}

func contentOf(data []byte) capture.ContentFunc {
	return func(context.Context) (string, string, error) {
		if utf8.Valid(data) {
			return string(data), "", nil
		}
		return base64.StdEncoding.EncodeToString(data), "base64", nil
	}
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end of b by
// a byte-level cut.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

func rawHeaders(host string, h http.Header) []capture.RawHeader {
	out := make([]capture.RawHeader, 0, len(h)+1)
	if host != "" {
		out = append(out, capture.RawHeader{Name: "Host", Value: host})
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, capture.RawHeader{Name: name, Value: v})
		}
	}
	return out
}

func resourceType(h http.Header) string {
	if strings.EqualFold(h.Get("X-Requested-With"), "XMLHttpRequest") {
		return "xhr"
	}
	switch dest := strings.ToLower(h.Get("Sec-Fetch-Dest")); dest {
	case "":
		return ""
	case "empty":
		return "fetch"
	default:
		return dest
	}
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
