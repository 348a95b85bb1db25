// Package session implements the session-window aggregator: a per-key
// streaming operator that groups events into variable-length sessions
// using event-time watermarks.
//
// The operator is single-threaded and cooperative, driven by an outer
// event loop (the pipeline vertex) that calls Accept for every item and
// AcceptWatermark whenever the upstream watermark advances. Nothing here
// blocks, spawns goroutines, or talks to the network; wiring an Operator
// into a DAG vertex, feeding it from an inter-step buffer and draining
// its emitted Sessions into a downstream edge is the host's job.
package session

import (
	"fmt"
	"iter"
	"slices"

	"go.uber.org/zap"

	"github.com/flowlake/corepipe/pkg/shared/logging"
	"github.com/flowlake/corepipe/pkg/window"
)

// Config enumerates everything the operator needs to know about the
// events it groups and the accumulator it folds them into. E is the
// event type, A is the accumulator type, R is the finished result type.
type Config[E any, A any, R any] struct {
	// SessionTimeoutMillis is the maximum gap, in the same unit as
	// TimestampFn's return value, across which two events are still
	// considered part of the same session. Must be positive.
	SessionTimeoutMillis int64
	// TimestampFn extracts the event-time of an event.
	TimestampFn func(E) int64
	// KeyFn extracts the partitioning key of an event.
	KeyFn func(E) string
	// NewAcc returns a fresh, zero-valued accumulator for a new window.
	NewAcc func() A
	// Accumulate folds one event into an accumulator in place.
	Accumulate func(*A, E)
	// Combine folds accB into accA in place, used when two windows merge.
	Combine func(accA *A, accB A)
	// Finish converts a finished accumulator into the emitted result.
	Finish func(A) R
	// Logger receives structured logs about window lifecycle events. Nil
	// defaults to logging.NewLogger(), matching how the sorted package
	// resolves its own default logger.
	Logger *zap.Logger
}

func (c Config[E, A, R]) validate() error {
	if c.SessionTimeoutMillis <= 0 {
		return ConfigurationErr{Field: "SessionTimeoutMillis", Message: fmt.Sprintf("must be positive, got %d", c.SessionTimeoutMillis)}
	}
	if c.TimestampFn == nil || c.KeyFn == nil || c.NewAcc == nil || c.Accumulate == nil || c.Combine == nil || c.Finish == nil {
		return ConfigurationErr{Field: "Config", Message: "missing one or more required functions"}
	}
	return nil
}

// Session is one emitted, closed window.
type Session[R any] struct {
	Key    string
	Start  int64
	End    int64
	Result R
}

// Operator is the session-window aggregator. Zero value is not usable;
// construct with New.
type Operator[E any, A any, R any] struct {
	cfg       Config[E, A, R]
	byKey     map[string]*window.List[A]
	deadlines *window.DeadlineIndex
	log       *zap.Logger
}

// New constructs a session-window operator. Returns a ConfigurationErr
// (by value) if cfg is incomplete or its timeout is not positive; construction is the only
// place invalid configuration is ever reported - nothing here recovers
// from a bad Config after the fact.
func New[E any, A any, R any](cfg Config[E, A, R]) (*Operator[E, A, R], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger().Named("session")
	}
	return &Operator[E, A, R]{
		cfg:       cfg,
		byKey:     make(map[string]*window.List[A]),
		deadlines: window.NewDeadlineIndex(),
		log:       cfg.Logger,
	}, nil
}

// Accept ingests one event. Without a merge it mutates or inserts one
// window and issues at most two deadline-index updates; each merge of a
// following window also removes that window and reindexes both ends.
// It never emits output directly;
// output is only produced by AcceptWatermark/Complete.
func (op *Operator[E, A, R]) Accept(e E) {
	eventsAccepted.Inc()
	t := op.cfg.TimestampFn(e)
	k := op.cfg.KeyFn(e)
	eventEnd := t + op.cfg.SessionTimeoutMillis

	list, ok := op.byKey[k]
	if !ok {
		list = window.New[A]()
		op.byKey[k] = list
		activeKeysGauge.Set(float64(len(op.byKey)))
	}

	if list.Len() == 0 {
		op.insertNew(list, k, t, eventEnd, e)
		return
	}

	hi := list.SearchStartAfter(eventEnd)
	for j := 0; j < hi; j++ {
		if list.End(j) < t {
			// Wj is wholly in the past relative to this event; it cannot
			// absorb it. Move on to the next candidate.
			continue
		}
		if list.Start(j) <= t && list.End(j) >= eventEnd {
			// Wj already spans the event's influence interval.
			op.cfg.Accumulate(list.Acc(j), e)
			return
		}

		// Wj partially overlaps [t, eventEnd). Either extend it, or, if
		// the following window's start falls at or before eventEnd (so it
		// too is touched by the event's influence interval), merge that
		// window into Wj first and re-test from there. start_{j+1} ==
		// eventEnd must also merge, not extend, or the merged windows
		// would leave end_j == start_{j+1}, violating the strict
		// adjacency invariant.
		if j+1 < list.Len() && list.Start(j+1) <= eventEnd {
			op.mergeNext(list, k, j)
			hi = min(hi, list.Len())
			j--
			continue
		}

		oldEnd := list.End(j)
		newStart := min64(list.Start(j), t)
		newEnd := max64(list.End(j), eventEnd)
		list.SetStart(j, newStart)
		list.SetEnd(j, newEnd)
		if newEnd != oldEnd {
			op.deadlines.Remove(k, oldEnd)
			op.deadlines.Insert(k, newEnd)
		}
		op.cfg.Accumulate(list.Acc(j), e)
		return
	}

	op.insertNew(list, k, t, eventEnd, e)
}

func (op *Operator[E, A, R]) insertNew(list *window.List[A], k string, start, end int64, e E) {
	idx := list.SearchStartAfter(start - 1)
	// SearchStartAfter(start-1) lands at the first index whose Start is
	// already > start-1, i.e. >= start; since no window can legally share
	// exactly this start without having already consumed the event above,
	// idx is the correct sorted insertion point.
	acc := op.cfg.NewAcc()
	list.InsertAt(idx, start, end, acc)
	op.cfg.Accumulate(list.Acc(idx), e)
	op.deadlines.Insert(k, end)
}

// mergeNext combines the window at j+1 into the window at j, removing
// j+1 from the list and reindexing the deadline for both the absorbed
// end and the new merged end.
func (op *Operator[E, A, R]) mergeNext(list *window.List[A], k string, j int) {
	oldEndJ := list.End(j)
	absorbedEnd := list.End(j + 1)
	op.cfg.Combine(list.Acc(j), *list.Acc(j+1))
	list.SetEnd(j, absorbedEnd)
	list.RemoveAt(j + 1)

	op.deadlines.Remove(k, oldEndJ)
	op.deadlines.Remove(k, absorbedEnd)
	op.deadlines.Insert(k, list.End(j))
}

// AcceptWatermark emits every session, across all keys, whose end is
// strictly less than wm, in non-decreasing end order, and removes them
// from internal state. A watermark that does not advance past any live
// deadline yields no output and mutates nothing - the call is
// idempotent in that case.
func (op *Operator[E, A, R]) AcceptWatermark(wm int64) iter.Seq[Session[R]] {
	expired := op.deadlines.PopAllBelow(wm)
	out := make([]Session[R], 0, len(expired))
	for _, d := range expired {
		list := op.byKey[d.Key]
		// By construction the front window of a key's list always holds
		// the smallest live end for that key, so the deadline we just
		// popped corresponds to index 0.
		start := list.Start(0)
		end := list.End(0)
		result := op.cfg.Finish(*list.Acc(0))
		out = append(out, Session[R]{Key: d.Key, Start: start, End: end, Result: result})
		list.RemoveFront(1)
		if list.Len() == 0 {
			delete(op.byKey, d.Key)
		}
	}
	if len(out) > 0 {
		op.log.Debug("closed expired sessions", zap.Int64("watermark", wm), zap.Int("count", len(out)))
		sessionsEmitted.Add(float64(len(out)))
		activeKeysGauge.Set(float64(len(op.byKey)))
	}
	return slices.Values(out)
}

// Complete flushes every remaining session regardless of watermark,
// equivalent to AcceptWatermark(+Inf). After Complete, the key map and
// deadline index are both empty.
func (op *Operator[E, A, R]) Complete() iter.Seq[Session[R]] {
	return op.AcceptWatermark(maxInt64)
}

// ActiveKeys reports how many keys currently have live window state,
// for tests and diagnostics.
func (op *Operator[E, A, R]) ActiveKeys() int { return len(op.byKey) }

// PendingDeadlines reports the number of live deadline entries.
func (op *Operator[E, A, R]) PendingDeadlines() int { return op.deadlines.Len() }

const maxInt64 = 1<<63 - 1

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
