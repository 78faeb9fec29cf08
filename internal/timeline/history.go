package timeline

import "fmt"

// CommandHistory keeps undo/redo stacks of inverse commands. Undo pops the
// undo stack, applies it, and pushes its own inverse onto the redo stack;
// redo mirrors that. Any new local command clears the redo stack.
type CommandHistory struct {
	undoStack []Command
	redoStack []Command
}

// Apply runs a command against the graph and records its inverse for undo.
func (h *CommandHistory) Apply(g *TimelineGraph, cmd Command) error {
	inverse, err := ApplyCommand(g, cmd)
	if err != nil {
		return err
	}
	h.undoStack = append(h.undoStack, inverse)
	h.redoStack = h.redoStack[:0]
	return nil
}

// Undo reverts the most recent command.
func (h *CommandHistory) Undo(g *TimelineGraph) error {
	if len(h.undoStack) == 0 {
		return fmt.Errorf("%w: undo stack", ErrHistoryEmpty)
	}
	cmd := h.undoStack[len(h.undoStack)-1]
	inverse, err := ApplyCommand(g, cmd)
	if err != nil {
		return err
	}
	h.undoStack = h.undoStack[:len(h.undoStack)-1]
	h.redoStack = append(h.redoStack, inverse)
	return nil
}

// Redo re-applies the most recently undone command.
func (h *CommandHistory) Redo(g *TimelineGraph) error {
	if len(h.redoStack) == 0 {
		return fmt.Errorf("%w: redo stack", ErrHistoryEmpty)
	}
	cmd := h.redoStack[len(h.redoStack)-1]
	inverse, err := ApplyCommand(g, cmd)
	if err != nil {
		return err
	}
	h.redoStack = h.redoStack[:len(h.redoStack)-1]
	h.undoStack = append(h.undoStack, inverse)
	return nil
}

// CanUndo reports whether there is anything to undo.
func (h *CommandHistory) CanUndo() bool { return len(h.undoStack) > 0 }

// CanRedo reports whether there is anything to redo.
func (h *CommandHistory) CanRedo() bool { return len(h.redoStack) > 0 }

// Clear drops both stacks.
func (h *CommandHistory) Clear() {
	h.undoStack = h.undoStack[:0]
	h.redoStack = h.redoStack[:0]
}
