// Package launcher handles the open-monitor command: it focuses a monitor
// view that is already open or opens a new one.
package launcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OpenMonitor is the only command the launcher understands.
const OpenMonitor = "open-monitor"

var ErrUnknownCommand = errors.New("launcher: unknown command")

// View is an open monitor view.
type View struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Views gives access to the open monitor views.
type Views interface {
	List(ctx context.Context) ([]View, error)
	Focus(ctx context.Context, v View) error
	Open(ctx context.Context, url string) error
}

// Outcome of a command.
type Outcome string

const (
	Focused Outcome = "focused"
	Opened  Outcome = "opened"
)

type Launcher struct {
	views  Views
	target string
	log    *zap.Logger
}

// New returns a launcher that manages views showing target.
func New(views Views, target string, log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{views: views, target: target, log: log}
}

func (l *Launcher) Target() string { return l.target }

// Run executes command. Views are matched on their exact URL.
func (l *Launcher) Run(ctx context.Context, command string) (Outcome, error) {
	if command != OpenMonitor {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	views, err := l.views.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list views: %w", err)
	}
	for _, v := range views {
		if v.URL != l.target {
			continue
		}
		if err := l.views.Focus(ctx, v); err != nil {
			return "", fmt.Errorf("focus view %s: %w", v.ID, err)
		}
		l.log.Info("focused monitor view", zap.String("view", v.ID))
		return Focused, nil
	}

	if err := l.views.Open(ctx, l.target); err != nil {
		return "", fmt.Errorf("open %s: %w", l.target, err)
	}
	l.log.Info("opened monitor view", zap.String("url", l.target))
	return Opened, nil
}
