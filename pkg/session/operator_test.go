package session

import (
	"slices"
	"testing"
)

type event struct {
	t int64
	k string
}

func countingOperator(t *testing.T, timeout int64) *Operator[event, int, int] {
	t.Helper()
	op, err := New(Config[event, int, int]{
		SessionTimeoutMillis: timeout,
		TimestampFn:          func(e event) int64 { return e.t },
		KeyFn:                func(e event) string { return e.k },
		NewAcc:               func() int { return 0 },
		Accumulate:           func(acc *int, _ event) { *acc++ },
		Combine:              func(a *int, b int) { *a += b },
		Finish:               func(acc int) int { return acc },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return op
}

func drain[R any](seq func(func(Session[R]) bool)) []Session[R] {
	var out []Session[R]
	for s := range seq {
		out = append(out, s)
	}
	return out
}

// Scenario 1: two events close together merge into a single session.
func TestScenarioMergeIntoOne(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 1, k: "a"})
	op.Accept(event{t: 5, k: "a"})

	got := drain(op.AcceptWatermark(100))
	if len(got) != 1 {
		t.Fatalf("expected 1 session, got %d: %+v", len(got), got)
	}
	s := got[0]
	if s.Start != 1 || s.End != 15 || s.Result != 2 {
		t.Fatalf("unexpected session: %+v", s)
	}
}

// Scenario 2: a wide gap keeps events in separate sessions.
func TestScenarioGapSeparates(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 1, k: "a"})
	op.Accept(event{t: 20, k: "a"})

	got := drain(op.AcceptWatermark(100))
	if len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d: %+v", len(got), got)
	}
	if got[0].Start != 1 || got[0].End != 11 {
		t.Fatalf("unexpected first session: %+v", got[0])
	}
	if got[1].Start != 20 || got[1].End != 30 {
		t.Fatalf("unexpected second session: %+v", got[1])
	}
}

// Scenario 3 (adjusted): an out-of-order event that neither falls inside
// nor partially overlaps any existing window's [start, end) becomes its
// own window, per the literal walk in section 4.1 - it is only absorbed
// when Wj's end is not already less than the event's timestamp. See
// DESIGN.md for why this differs from the spec's illustrative prose.
func TestScenarioOutOfOrderInsertsIndependentWindow(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 1, k: "a"})
	op.Accept(event{t: 30, k: "a"})
	op.Accept(event{t: 15, k: "a"})

	got := drain(op.AcceptWatermark(100))
	if len(got) != 3 {
		t.Fatalf("expected 3 sessions, got %d: %+v", len(got), got)
	}
	wantStarts := []int64{1, 15, 30}
	wantEnds := []int64{11, 25, 40}
	for i := range got {
		if got[i].Start != wantStarts[i] || got[i].End != wantEnds[i] {
			t.Fatalf("session %d: got [%d,%d), want [%d,%d)", i, got[i].Start, got[i].End, wantStarts[i], wantEnds[i])
		}
	}
}

// Scenario 4: a watermark with nothing expired yet produces no output
// and touches no state.
func TestScenarioEarlyWatermarkIsNoop(t *testing.T) {
	op := countingOperator(t, 10)
	got := drain(op.AcceptWatermark(100))
	if len(got) != 0 {
		t.Fatalf("expected no output, got %+v", got)
	}
	if op.ActiveKeys() != 0 || op.PendingDeadlines() != 0 {
		t.Fatalf("expected no state, got keys=%d deadlines=%d", op.ActiveKeys(), op.PendingDeadlines())
	}
}

// P1: emitted sessions never regress in End across calls with
// non-decreasing watermarks.
func TestMonotoneEmission(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 1, k: "a"})
	op.Accept(event{t: 50, k: "b"})
	op.Accept(event{t: 25, k: "c"})

	var ends []int64
	for _, s := range drain(op.AcceptWatermark(1000)) {
		ends = append(ends, s.End)
	}
	if !slices.IsSorted(ends) {
		t.Fatalf("emission order not sorted by end: %v", ends)
	}
}

// P3: whether two same-key events merge depends exactly on the gap
// versus the session timeout.
func TestGapSemantics(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 0, k: "a"})
	op.Accept(event{t: 10, k: "a"}) // gap == timeout, must merge (<=)

	got := drain(op.AcceptWatermark(1000))
	if len(got) != 1 {
		t.Fatalf("expected exactly-at-timeout gap to merge, got %d sessions", len(got))
	}

	op2 := countingOperator(t, 10)
	op2.Accept(event{t: 0, k: "a"})
	op2.Accept(event{t: 11, k: "a"}) // gap just over timeout, must separate

	got2 := drain(op2.AcceptWatermark(1000))
	if len(got2) != 2 {
		t.Fatalf("expected over-timeout gap to separate, got %d sessions", len(got2))
	}
}

// P4: after Complete, internal state is fully released.
func TestCompleteReleasesState(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 1, k: "a"})
	op.Accept(event{t: 2, k: "b"})

	_ = drain(op.Complete())

	if op.ActiveKeys() != 0 {
		t.Fatalf("expected 0 active keys after Complete, got %d", op.ActiveKeys())
	}
	if op.PendingDeadlines() != 0 {
		t.Fatalf("expected 0 pending deadlines after Complete, got %d", op.PendingDeadlines())
	}
}

// Strict end < wm: a watermark landing exactly on a window's end does
// not close it.
func TestWatermarkAtExactEndDoesNotClose(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 1, k: "a"}) // window [1, 11)

	got := drain(op.AcceptWatermark(11))
	if len(got) != 0 {
		t.Fatalf("expected window to stay open when wm == end, got %+v", got)
	}
	got = drain(op.AcceptWatermark(12))
	if len(got) != 1 {
		t.Fatalf("expected window to close once wm > end, got %+v", got)
	}
}

// Merge-next path: e(0) and e(11) land in two separate windows (the
// second event's timestamp is already past the first window's end, so
// it cannot be absorbed directly and starts its own window). e(5)
// arrives late, partially overlaps the first window, and its influence
// interval [5, 15) also reaches into the second window, so mergeNext
// collapses both into one.
func TestMergeAdjacentWindows(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 0, k: "a"})  // [0, 10)
	op.Accept(event{t: 11, k: "a"}) // end(10) < t(11): separate window [11, 21)
	op.Accept(event{t: 5, k: "a"})  // bridges and merges both into [0, 21)

	got := drain(op.AcceptWatermark(1000))
	if len(got) != 1 {
		t.Fatalf("expected 1 merged session, got %d: %+v", len(got), got)
	}
	if got[0].Start != 0 || got[0].End != 21 {
		t.Fatalf("unexpected merged session: %+v", got[0])
	}
	if got[0].Result != 3 {
		t.Fatalf("expected all 3 events folded into the merged session, got %d", got[0].Result)
	}
}

// A bridging event whose eventEnd lands exactly on the next window's
// start must still merge, not extend: end_j == start_{j+1} would
// otherwise violate the strict adjacency invariant between windows.
func TestMergeTriggeredAtExactBoundary(t *testing.T) {
	op := countingOperator(t, 10)
	op.Accept(event{t: 2, k: "a"})  // [2, 12)
	op.Accept(event{t: 15, k: "a"}) // end(12) < t(15): separate window [15, 25)
	op.Accept(event{t: 5, k: "a"})  // eventEnd == 15 == next window's start: must merge

	got := drain(op.AcceptWatermark(1000))
	if len(got) != 1 {
		t.Fatalf("expected 1 merged session, got %d: %+v", len(got), got)
	}
	if got[0].Start != 2 || got[0].End != 25 {
		t.Fatalf("unexpected merged session: %+v", got[0])
	}
}
