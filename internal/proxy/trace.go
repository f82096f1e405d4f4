package proxy

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"

	"apimon/internal/types"
)

// phaseTrace records connection milestones of one upstream round trip.
type phaseTrace struct {
	now func() time.Time

	mu                        sync.Mutex
	getConn, gotConn          time.Time
	dnsStart, dnsDone         time.Time
	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time
	wroteRequest, firstByte   time.Time
}

func (t *phaseTrace) mark(field *time.Time) func() {
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if field.IsZero() {
			*field = t.now()
		}
	}
}

func (t *phaseTrace) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn:              func(string) { t.mark(&t.getConn)() },
		GotConn:              func(httptrace.GotConnInfo) { t.mark(&t.gotConn)() },
		DNSStart:             func(httptrace.DNSStartInfo) { t.mark(&t.dnsStart)() },
		DNSDone:              func(httptrace.DNSDoneInfo) { t.mark(&t.dnsDone)() },
		ConnectStart:         func(string, string) { t.mark(&t.connectStart)() },
		ConnectDone:          func(string, string, error) { t.mark(&t.connectDone)() },
		TLSHandshakeStart:    t.mark(&t.tlsStart),
		TLSHandshakeDone:     func(tls.ConnectionState, error) { t.mark(&t.tlsDone)() },
		WroteRequest:         func(httptrace.WroteRequestInfo) { t.mark(&t.wroteRequest)() },
		GotFirstResponseByte: t.mark(&t.firstByte),
	}
}

// timings converts the milestones into phase durations in milliseconds.
// Phases that did not happen are -1. bodyDone may be zero when no body was
// received.
func (t *phaseTrace) timings(bodyDone time.Time) types.Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	connectEnd := t.connectDone
	if !t.tlsDone.IsZero() {
		connectEnd = t.tlsDone
	}
	blockedEnd := t.gotConn
	for _, ts := range []time.Time{t.connectStart, t.dnsStart} {
		if !ts.IsZero() {
			blockedEnd = ts
		}
	}

	return types.Timings{
		types.PhaseBlocked: span(t.getConn, blockedEnd),
		types.PhaseDNS:     span(t.dnsStart, t.dnsDone),
		types.PhaseConnect: span(t.connectStart, connectEnd),
		types.PhaseSSL:     span(t.tlsStart, t.tlsDone),
		types.PhaseSend:    span(t.gotConn, t.wroteRequest),
		types.PhaseWait:    span(t.wroteRequest, t.firstByte),
		types.PhaseReceive: span(t.firstByte, bodyDone),
	}
}

func span(from, to time.Time) float64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return -1
	}
	return float64(to.Sub(from)) / float64(time.Millisecond)
}
