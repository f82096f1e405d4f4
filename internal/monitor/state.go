package monitor

import (
	"apimon/internal/buffer"
	"apimon/internal/types"
)

// State is the mutable view state: the buffered entries, the active filter
// and the selected entry.
type State struct {
	Items      *buffer.Buffer
	Filter     buffer.Filter
	SelectedID string
}

// NewState returns an empty state whose buffer holds at most maxItems.
func NewState(maxItems int) State {
	return State{Items: buffer.New(maxItems)}
}

// Action is a state transition.
type Action interface {
	action()
}

// SetItems replaces the buffered entries.
type SetItems struct{ Items []types.Entry }

// AddItem prepends one entry.
type AddItem struct{ Item types.Entry }

// SetFilter replaces the active filter.
type SetFilter struct{ Filter buffer.Filter }

// SetSelected selects an entry; an empty ID clears the selection.
type SetSelected struct{ ID string }

// Clear empties the buffer and the selection.
type Clear struct{}

func (SetItems) action()    {}
func (AddItem) action()     {}
func (SetFilter) action()   {}
func (SetSelected) action() {}
func (Clear) action()       {}

// Reduce applies a to s.
func Reduce(s *State, a Action) {
	switch a := a.(type) {
	case SetItems:
		s.Items.Reset(a.Items)
	case AddItem:
		s.Items.Insert(a.Item)
	case SetFilter:
		s.Filter = a.Filter
	case SetSelected:
		s.SelectedID = a.ID
	case Clear:
		s.Items.Clear()
		s.SelectedID = ""
	}
}
