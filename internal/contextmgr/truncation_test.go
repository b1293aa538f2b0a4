package contextmgr

import (
	"fmt"
	"testing"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// alternating builds n messages starting with a user message at index 0.
func alternating(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs[i] = models.Message{
			ID:      fmt.Sprintf("m%d", i),
			Role:    role,
			Content: []models.ContentBlock{models.TextBlock(fmt.Sprintf("message %d", i))},
		}
	}
	return msgs
}

func viewIDs(view []models.Message) []string {
	ids := make([]string, len(view))
	for i, m := range view {
		ids[i] = m.ID
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNextTruncationRange_HalfFromEmpty(t *testing.T) {
	msgs := alternating(10)

	r := NextTruncationRange(msgs, EmptyRange(), KeepHalf)
	if r != (Range{Start: 2, End: 5}) {
		t.Fatalf("range = %+v, want [2,5]", r)
	}

	got := viewIDs(TruncatedView(msgs, r))
	want := []string{"m0", "m1", "m6", "m7", "m8", "m9"}
	if !equalIDs(got, want) {
		t.Errorf("view = %v, want %v", got, want)
	}
}

func TestNextTruncationRange_QuarterFromPrior(t *testing.T) {
	msgs := alternating(10)

	r := NextTruncationRange(msgs, Range{Start: 2, End: 5}, KeepQuarter)
	if r != (Range{Start: 2, End: 7}) {
		t.Fatalf("range = %+v, want [2,7]", r)
	}

	got := viewIDs(TruncatedView(msgs, r))
	want := []string{"m0", "m1", "m8", "m9"}
	if !equalIDs(got, want) {
		t.Errorf("view = %v, want %v", got, want)
	}
}

func TestNextTruncationRange_Policies(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		current Range
		keep    Keep
		want    Range
	}{
		{"none removes everything up to last assistant", 10, EmptyRange(), KeepNone, Range{2, 9}},
		{"none with trailing user", 11, EmptyRange(), KeepNone, Range{2, 9}},
		{"lastTwo keeps final pair", 10, EmptyRange(), KeepLastTwo, Range{2, 7}},
		{"half of short history is empty", 4, EmptyRange(), KeepHalf, EmptyRange()},
		{"quarter on short history", 6, EmptyRange(), KeepQuarter, Range{2, 3}},
		{"nothing left to remove keeps current", 8, Range{2, 7}, KeepHalf, Range{2, 7}},
		{"history of two", 2, EmptyRange(), KeepNone, EmptyRange()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextTruncationRange(alternating(tt.n), tt.current, tt.keep)
			if got != tt.want {
				t.Errorf("NextTruncationRange() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNextTruncationRange_EndsOnAssistant(t *testing.T) {
	for n := 3; n <= 40; n++ {
		msgs := alternating(n)
		for _, keep := range []Keep{KeepNone, KeepLastTwo, KeepHalf, KeepQuarter} {
			current := EmptyRange()
			for step := 0; step < 4; step++ {
				next := NextTruncationRange(msgs, current, keep)
				if !next.Empty() && msgs[next.End].Role != models.RoleAssistant {
					t.Fatalf("n=%d keep=%s: end %d is %s", n, keep, next.End, msgs[next.End].Role)
				}
				if !current.Empty() && next.End < current.End {
					t.Fatalf("n=%d keep=%s: end moved backwards %d -> %d", n, keep, current.End, next.End)
				}
				if next.Start != 2 && !next.Empty() {
					t.Fatalf("n=%d keep=%s: start = %d", n, keep, next.Start)
				}
				current = next
			}
		}
	}
}

func TestTruncatedView_KeepsAnchors(t *testing.T) {
	for n := 2; n <= 20; n++ {
		msgs := alternating(n)
		r := NextTruncationRange(msgs, EmptyRange(), KeepNone)
		view := TruncatedView(msgs, r)
		if len(view) < 2 || view[0].ID != "m0" || view[1].ID != "m1" {
			t.Fatalf("n=%d: view lost anchors: %v", n, viewIDs(view))
		}
	}
}

func TestTruncatedView_DoesNotMutate(t *testing.T) {
	msgs := alternating(10)
	_ = TruncatedView(msgs, Range{Start: 2, End: 5})
	if len(msgs) != 10 || msgs[3].ID != "m3" {
		t.Error("backing history was modified")
	}
}
