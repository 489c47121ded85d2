package cli

import "github.com/conveyor-forge/conveyor/internal/tracker"

// ANSI escape codes for terminal colors
const (
	ansiGreen       = "\033[32m"
	ansiCyan        = "\033[36m"
	ansiYellow      = "\033[33m"
	ansiRed         = "\033[31m"
	ansiDim         = "\033[2m"
	ansiBoldMagenta = "\033[1;35m"
	ansiReset       = "\033[0m"
)

// stateDisplay returns the symbol and color for a ticket's current
// lifecycle label (tracker.go's exclusive label set).
func stateDisplay(t tracker.Ticket) (symbol, color string) {
	switch {
	case t.HasLabel(tracker.LabelBuilding):
		return "⟳", ansiYellow
	case t.HasLabel(tracker.LabelMergePending):
		return "◎", ansiCyan
	case t.HasLabel(tracker.LabelComplete):
		return "✓", ansiGreen
	case t.HasLabel(tracker.LabelMergeConflict):
		return "✗", ansiRed
	case t.HasLabel(tracker.LabelTestsFailed):
		return "✗", ansiRed
	case t.HasLabel(tracker.LabelQueued):
		return "◯", ansiBoldMagenta
	default:
		return "·", ansiDim
	}
}

func dimText(s string) string {
	return ansiDim + s + ansiReset
}
