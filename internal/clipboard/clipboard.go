// Package clipboard writes text to the system clipboard.
package clipboard

import "github.com/atotto/clipboard"

// Writer is a destination for copied text.
type Writer interface {
	WriteText(text string) error
}

// System writes to the clipboard of the machine running apimon.
type System struct{}

func (System) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

// Func adapts a function to Writer.
type Func func(text string) error

func (f Func) WriteText(text string) error { return f(text) }
