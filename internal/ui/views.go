package ui

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"apimon/internal/launcher"
)

// viewHub tracks the monitor pages connected to /events. It implements
// launcher.Views.
type viewHub struct {
	open func(url string) error

	mu    sync.Mutex
	next  int
	views map[string]*viewConn
}

type viewConn struct {
	id    string
	url   string
	focus chan struct{}
}

func newViewHub(open func(url string) error) *viewHub {
	if open == nil {
		open = launcher.OpenBrowser
	}
	return &viewHub{open: open, views: make(map[string]*viewConn)}
}

func (h *viewHub) register(url string) (*viewConn, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	v := &viewConn{id: strconv.Itoa(h.next), url: url, focus: make(chan struct{}, 1)}
	h.views[v.id] = v
	return v, func() {
		h.mu.Lock()
		delete(h.views, v.id)
		h.mu.Unlock()
	}
}

// List returns the connected views in connection order.
func (h *viewHub) List(context.Context) ([]launcher.View, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]launcher.View, 0, len(h.views))
	for _, v := range h.views {
		out = append(out, launcher.View{ID: v.id, URL: v.url})
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		return a < b
	})
	return out, nil
}

func (h *viewHub) Focus(_ context.Context, view launcher.View) error {
	h.mu.Lock()
	v, ok := h.views[view.ID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("view %s disconnected", view.ID)
	}
	select {
	case v.focus <- struct{}{}:
	default:
	}
	return nil
}

func (h *viewHub) Open(_ context.Context, url string) error {
	return h.open(url)
}
