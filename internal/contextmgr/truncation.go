package contextmgr

import "github.com/ShayCichocki/taskpilot/pkg/models"

// rangeStart is the first index that may ever be truncated. Messages 0
// and 1 anchor the original task and the first response.
const rangeStart = 2

// Keep selects how much of the history beyond the current range survives.
type Keep string

const (
	KeepNone    Keep = "none"
	KeepLastTwo Keep = "lastTwo"
	KeepHalf    Keep = "half"
	KeepQuarter Keep = "quarter"
)

// Range is the inclusive index interval elided from the view.
// A range with End < Start elides nothing.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// EmptyRange returns a range that elides nothing.
func EmptyRange() Range {
	return Range{Start: rangeStart, End: rangeStart - 1}
}

// Empty reports whether the range elides nothing.
func (r Range) Empty() bool {
	return r.End < r.Start
}

// Len returns the number of elided messages.
func (r Range) Len() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Start + 1
}

// NextTruncationRange extends current so that the requested share of the
// remaining history is elided. The returned End never precedes current.End
// and, when it moves, lands on an assistant message.
func NextTruncationRange(messages []models.Message, current Range, keep Keep) Range {
	startOfRest := rangeStart
	if !current.Empty() {
		startOfRest = current.End + 1
	}

	rest := len(messages) - startOfRest
	if rest < 0 {
		rest = 0
	}

	var remove int
	switch keep {
	case KeepNone:
		remove = rest
	case KeepLastTwo:
		remove = max(rest-2, 0)
	case KeepQuarter:
		remove = (rest * 3 / 4 / 2) * 2
	default:
		remove = (rest / 4) * 2
	}

	end := startOfRest + remove - 1
	if end >= rangeStart && end < len(messages) && messages[end].Role != models.RoleAssistant {
		end--
	}

	next := Range{Start: rangeStart, End: end}
	if !current.Empty() && next.End < current.End {
		next.End = current.End
	}
	if next.End < rangeStart {
		return EmptyRange()
	}
	return next
}

// TruncatedView returns messages 0 and 1 followed by everything after r.End.
func TruncatedView(messages []models.Message, r Range) []models.Message {
	if r.Empty() || len(messages) <= rangeStart {
		view := make([]models.Message, len(messages))
		copy(view, messages)
		return view
	}

	view := make([]models.Message, 0, len(messages)-r.Len())
	view = append(view, messages[:rangeStart]...)
	if r.End+1 < len(messages) {
		view = append(view, messages[r.End+1:]...)
	}
	return view
}
