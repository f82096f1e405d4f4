package capture

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Listener subscribes to a Source and feeds every finished request through
// the body reader and normalizer into a Sink.
type Listener struct {
	src        Source
	sink       Sink
	reader     BodyReader
	normalizer Normalizer
	log        *zap.Logger

	mu          sync.Mutex
	started     bool
	closed      bool
	unsubscribe func()
	wg          sync.WaitGroup
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	MaxBodyBytes int
	Log          *zap.Logger
}

func NewListener(src Source, sink Sink, opts ListenerOptions) *Listener {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		src:        src,
		sink:       sink,
		reader:     BodyReader{MaxBytes: opts.MaxBodyBytes, Log: log},
		normalizer: Normalizer{MaxBodyBytes: opts.MaxBodyBytes},
		log:        log,
	}
}

// Start subscribes to the source. Calling Start more than once, or after
// Stop, has no effect.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	l.unsubscribe = l.src.Subscribe(l.handle)
}

// Stop unsubscribes from the source. Body reads already in flight are not
// cancelled, but their results are discarded.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	unsubscribe := l.unsubscribe
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Wait blocks until every in-flight pipeline has finished.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) handle(req *FinishedRequest) {
	if req == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()

		body := l.reader.Read(context.Background(), req)
		entry := l.normalizer.Normalize(req, body)

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			l.log.Debug("discard entry after teardown", zap.String("url", entry.URL))
			return
		}
		l.sink.Insert(entry)
		l.log.Debug("captured",
			zap.String("id", entry.ID),
			zap.String("method", entry.Method),
			zap.String("url", entry.URL),
			zap.Int("status", entry.Status))
	}()
}
