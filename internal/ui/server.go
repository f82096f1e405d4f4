// Package ui serves the monitor page and its JSON/SSE API.
package ui

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"go.uber.org/zap"

	"apimon/internal/buffer"
	"apimon/internal/clipboard"
	"apimon/internal/export"
	"apimon/internal/format"
	"apimon/internal/har"
	"apimon/internal/launcher"
	"apimon/internal/monitor"
	"apimon/internal/replay"
	"apimon/internal/types"
)

//go:embed static
var staticFiles embed.FS

// Options configures a Server.
type Options struct {
	Monitor   *monitor.Monitor
	Clipboard clipboard.Writer
	// Client issues replayed requests.
	Client *http.Client
	// Target is the URL of the monitor page as seen by the browser.
	Target string
	// OpenBrowser opens a new monitor view. Defaults to launcher.OpenBrowser.
	OpenBrowser     func(url string) error
	DetailCacheSize int
	Version         string
	Log             *zap.Logger
	Now             func() time.Time
}

type Server struct {
	mon      *monitor.Monitor
	clip     clipboard.Writer
	client   *http.Client
	views    *viewHub
	launcher *launcher.Launcher
	details  *detailCache
	version  string
	log      *zap.Logger
	now      func() time.Time
	mux      *http.ServeMux
}

func NewServer(opts Options) (*Server, error) {
	if opts.Monitor == nil {
		return nil, errors.New("ui: monitor is required")
	}
	details, err := newDetailCache(opts.DetailCacheSize)
	if err != nil {
		return nil, fmt.Errorf("detail cache: %w", err)
	}
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}

	s := &Server{
		mon:     opts.Monitor,
		clip:    opts.Clipboard,
		client:  opts.Client,
		details: details,
		version: opts.Version,
		log:     opts.Log,
		now:     opts.Now,
		mux:     http.NewServeMux(),
	}
	if s.clip == nil {
		s.clip = clipboard.System{}
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 30 * time.Second}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.views = newViewHub(opts.OpenBrowser)
	s.launcher = launcher.New(s.views, opts.Target, s.log)

	s.mux.Handle("GET /ui/", http.StripPrefix("/ui/", http.FileServer(http.FS(static))))

	s.mux.HandleFunc("GET /api/entries", s.handleEntries)
	s.mux.HandleFunc("GET /api/entry/{id}", s.handleEntry)
	s.mux.HandleFunc("POST /api/entry/{id}/copy-curl", s.handleCopyCurl)
	s.mux.HandleFunc("POST /api/entry/{id}/copy-response", s.handleCopyResponse)
	s.mux.HandleFunc("POST /api/replay/{id}", s.handleReplay)
	s.mux.HandleFunc("GET /api/export", s.handleExport)
	s.mux.HandleFunc("GET /api/export/har", s.handleExportHAR)
	s.mux.HandleFunc("POST /api/clear", s.handleClear)
	s.mux.HandleFunc("POST /api/command/{name}", s.handleCommand)
	s.mux.HandleFunc("GET /events", s.handleEvents)

	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusFound)
	})

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type entriesResponse struct {
	Items  []types.Entry `json:"items"`
	Total  int           `json:"total"`
	Filter buffer.Filter `json:"filter"`
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := buffer.Filter{
		Text:       q.Get("q"),
		OnlyErrors: flag(q.Get("errors")),
		OnlyXHR:    flag(q.Get("xhr")),
		OnlyAPI:    flag(q.Get("api")),
	}
	s.mon.SetFilter(f)
	items := s.mon.Visible()
	s.writeJSON(w, entriesResponse{Items: items, Total: len(s.mon.Entries()), Filter: f})
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.mon.Select(id) {
		http.Error(w, "entry not found", http.StatusNotFound)
		return
	}
	e, _ := s.mon.Get(id)
	s.writeJSON(w, s.details.get(e))
}

func (s *Server) handleCopyCurl(w http.ResponseWriter, r *http.Request) {
	e, ok := s.mon.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "entry not found", http.StatusNotFound)
		return
	}
	if err := s.clip.WriteText(format.Curl(&e)); err != nil {
		s.log.Warn("copy curl failed", zap.String("id", e.ID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]bool{"copied": true})
}

func (s *Server) handleCopyResponse(w http.ResponseWriter, r *http.Request) {
	e, ok := s.mon.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "entry not found", http.StatusNotFound)
		return
	}
	if e.ResponseBody == "" {
		s.writeJSON(w, map[string]bool{"copied": false})
		return
	}
	if err := s.clip.WriteText(format.PrettyJSON(e.ResponseBody).Text); err != nil {
		s.log.Warn("copy response failed", zap.String("id", e.ID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]bool{"copied": true})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	e, ok := s.mon.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "entry not found", http.StatusNotFound)
		return
	}
	res, err := replay.Replay(r.Context(), s.client, e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	entries := s.mon.Entries()
	var (
		data []byte
		err  error
	)
	if expr := r.URL.Query().Get("jq"); expr != "" {
		data, err = export.Transform(r.Context(), entries, expr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		data, err = export.JSON(entries)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename="+export.FileName(s.now()))
	if _, err := w.Write(data); err != nil {
		s.log.Debug("export write failed", zap.Error(err))
	}
}

func (s *Server) handleExportHAR(w http.ResponseWriter, r *http.Request) {
	doc := har.FromEntries(s.mon.Entries(), s.version)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=apimon.har")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		s.log.Debug("har write failed", zap.Error(err))
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.mon.Clear()
	s.details.purge()
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	out, err := s.launcher.Run(r.Context(), r.PathValue("name"))
	switch {
	case errors.Is(err, launcher.ErrUnknownCommand):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.log.Warn("command failed", zap.String("command", r.PathValue("name")), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, map[string]launcher.Outcome{"outcome": out})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := s.mon.Subscribe()
	defer unsubscribe()
	view, unregister := s.views.register(r.Referer())
	defer unregister()

	fmt.Fprintf(w, "event: ping\ndata: %s\n\n", view.id)
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("encode event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		case <-view.focus:
			fmt.Fprint(w, "event: focus\ndata: {}\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("writeJSON", zap.Error(err))
	}
}

func flag(v string) bool {
	return v == "1" || v == "true"
}
