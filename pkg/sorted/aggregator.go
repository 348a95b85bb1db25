// Package sorted implements a partitioned, spill-to-disk sorted
// aggregator: records are appended in arbitrary order, optionally
// combined by key as they arrive, and eventually made available in
// comparator order through one merge Cursor spanning every partition - transparently
// drawing on disk once the in-memory block pool runs out.
package sorted

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/flowlake/corepipe/pkg/shared/logging"
	"github.com/flowlake/corepipe/pkg/sorted/accum"
	"github.com/flowlake/corepipe/pkg/sorted/block"
	"github.com/flowlake/corepipe/pkg/sorted/comparator"
	"github.com/flowlake/corepipe/pkg/sorted/spill"
)

// Phase is the aggregator's lifecycle state. Every operational method
// documents which phases it is legal in; calling one from the wrong
// phase is an InvariantViolationErr, not a recoverable condition.
type Phase int

const (
	PhaseAccepting Phase = iota
	PhaseSpillingActive
	PhaseSorting
	PhaseReady
	PhaseBroken
	PhaseDisposed
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepting:
		return "Accepting"
	case PhaseSpillingActive:
		return "SpillingActive"
	case PhaseSorting:
		return "Sorting"
	case PhaseReady:
		return "Ready"
	case PhaseBroken:
		return "Broken"
	case PhaseDisposed:
		return "Disposed"
	default:
		return "Unknown"
	}
}

// SortOrder selects ascending or descending comparator order for a
// Cursor; descending is implemented uniformly by negating Comparator,
// touching no other logic.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// Config describes one Aggregator instance. Comparator is mandatory;
// Accumulator is optional - when nil, records with equal keys are kept
// as distinct entries rather than combined.
type Config struct {
	Partitions int
	Comparator comparator.Comparator
	Accumulator *accum.Accumulator
	SortOrder  SortOrder
	BlockSize  int
	BlockCount int
	SpillDir   string
	ByteOrder  binary.ByteOrder
	Allocator  memory.Allocator
	Logger     *zap.Logger

	// SpillingChunkSize is defaulted to 1024 when non-positive but is not
	// read by any operation: each SpillNextChunk call writes one whole
	// partition's in-memory records, however many there are.
	SpillingChunkSize int
}

// Aggregator is a partitioned, phase-gated, spill-capable sorted store.
// It does not start goroutines and holds no internal lock: every method
// does a bounded amount of work and returns, making the whole type safe
// to drive from a single-threaded event loop exactly like the session
// operator.
type Aggregator struct {
	cfg   Config
	pool  *block.Pool
	parts []*partition
	log   *zap.Logger

	phase Phase

	runCounter []int64
	runPaths   [][]string

	spillCursor int // next partition index SpillNextChunk will drain
	sortCursor  int // next partition index Sort will advance
}

// New validates cfg and builds an Aggregator ready to Accept records. It
// never touches disk; the spill directory is only created lazily on the
// first StartSpilling call.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Partitions <= 0 {
		return nil, ConfigurationErr{Field: "Partitions", Message: "must be positive"}
	}
	if cfg.Comparator.Compare == nil {
		return nil, ConfigurationErr{Field: "Comparator", Message: "must be set"}
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = block.DefaultSize
	}
	if cfg.BlockCount <= 0 {
		return nil, ConfigurationErr{Field: "BlockCount", Message: "must be positive"}
	}
	if cfg.SpillDir == "" {
		return nil, ConfigurationErr{Field: "SpillDir", Message: "must be set"}
	}
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = binary.BigEndian
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger().Named("sorted")
	}
	if cfg.SpillingChunkSize <= 0 {
		cfg.SpillingChunkSize = 1024
	}
	if cfg.SortOrder == Descending {
		cfg.Comparator = comparator.Reversed(cfg.Comparator)
	}

	pool := block.New(cfg.Allocator, cfg.BlockSize, cfg.BlockCount)
	a := &Aggregator{
		cfg:        cfg,
		pool:       pool,
		log:        cfg.Logger,
		phase:      PhaseAccepting,
		runCounter: make([]int64, cfg.Partitions),
		runPaths:   make([][]string, cfg.Partitions),
	}
	for i := 0; i < cfg.Partitions; i++ {
		a.parts = append(a.parts, newPartition(i, pool, cfg.ByteOrder, cfg.Comparator, cfg.Accumulator))
	}
	return a, nil
}

// Phase reports the aggregator's current lifecycle state.
func (a *Aggregator) Phase() Phase { return a.phase }

func (a *Aggregator) requirePhase(op string, want Phase) error {
	if a.phase == PhaseBroken {
		return InvariantViolationErr{Op: op, Phase: a.phase, Message: "aggregator is broken after an io failure; only Dispose is permitted"}
	}
	if a.phase != want {
		return InvariantViolationErr{Op: op, Phase: a.phase, Message: fmt.Sprintf("requires phase %s", want)}
	}
	return nil
}

func (a *Aggregator) partitionFor(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(len(a.parts)))
}

// Accept routes key/value to its partition by a hash of the key,
// combining it with any existing same-key in-memory entry when an
// associative accumulator is configured. It returns ok=false - not an error - when the shared
// block pool has no room left; the caller is expected to drive
// StartSpilling/SpillNextChunk/FinishSpilling to reclaim blocks and then
// retry the same record.
func (a *Aggregator) Accept(key, value []byte) (ok bool, err error) {
	if err := a.requirePhase("Accept", PhaseAccepting); err != nil {
		return false, err
	}
	p := a.parts[a.partitionFor(key)]
	if !p.Append(key, value) {
		return false, nil
	}
	recordsAccepted.WithLabelValues(strconv.Itoa(p.idx)).Inc()
	blocksAvailable.WithLabelValues().Set(float64(a.pool.Available()))
	return true, nil
}

// StartSpilling moves the aggregator from Accepting into
// SpillingActive, the only phase SpillNextChunk is legal in.
func (a *Aggregator) StartSpilling() error {
	if err := a.requirePhase("StartSpilling", PhaseAccepting); err != nil {
		return err
	}
	if err := os.MkdirAll(a.cfg.SpillDir, 0o755); err != nil {
		a.phase = PhaseBroken
		return IOFailureErr{Op: "StartSpilling", Path: a.cfg.SpillDir, Cause: err}
	}
	a.phase = PhaseSpillingActive
	a.spillCursor = 0
	return nil
}

// SpillNextChunk drains exactly one partition's in-memory records to a
// new run file and returns done=true once every partition has been
// drained for this pass. It does no internal looping so that a caller
// can interleave spilling with other work instead of blocking for the
// whole pass.
func (a *Aggregator) SpillNextChunk() (done bool, err error) {
	if err := a.requirePhase("SpillNextChunk", PhaseSpillingActive); err != nil {
		return false, err
	}
	if a.spillCursor >= len(a.parts) {
		return true, nil
	}
	p := a.parts[a.spillCursor]
	if p.Len() == 0 {
		a.spillCursor++
		return a.spillCursor >= len(a.parts), nil
	}

	dir := spill.PartitionDir(a.cfg.SpillDir, p.idx)
	runID := a.runCounter[p.idx]
	a.runCounter[p.idx]++

	w, err := spill.NewWriter(dir, runID, a.cfg.ByteOrder)
	if err != nil {
		a.phase = PhaseBroken
		return false, IOFailureErr{Op: "SpillNextChunk", Path: dir, Cause: err}
	}

	n := p.Len()
	if err := p.drainInto(w); err != nil {
		_ = w.Abort()
		a.phase = PhaseBroken
		return false, IOFailureErr{Op: "SpillNextChunk", Path: dir, Cause: err}
	}

	path, err := w.Finalize()
	if err != nil {
		a.phase = PhaseBroken
		return false, IOFailureErr{Op: "SpillNextChunk", Path: dir, Cause: err}
	}
	a.runPaths[p.idx] = append(a.runPaths[p.idx], path)

	recordsSpilled.WithLabelValues(strconv.Itoa(p.idx)).Add(float64(n))
	spillRunsCreated.WithLabelValues(strconv.Itoa(p.idx)).Inc()
	blocksAvailable.WithLabelValues().Set(float64(a.pool.Available()))

	a.spillCursor++
	return a.spillCursor >= len(a.parts), nil
}

// FinishSpilling closes out a spill pass and returns the aggregator to
// Accepting, matching the ACCEPTING -> SPILLING_ACTIVE -> ACCEPTING
// cycle: callers may alternate Accept and spill passes arbitrarily many
// times before ever calling PrepareToSort.
func (a *Aggregator) FinishSpilling() error {
	if err := a.requirePhase("FinishSpilling", PhaseSpillingActive); err != nil {
		return err
	}
	if a.spillCursor < len(a.parts) {
		return InvariantViolationErr{Op: "FinishSpilling", Phase: a.phase, Message: "spill pass not yet complete; call SpillNextChunk until done"}
	}
	a.phase = PhaseAccepting
	return nil
}

// PrepareToSort moves the aggregator from Accepting into Sorting,
// freezing it against further Accept calls while Sort runs.
func (a *Aggregator) PrepareToSort() error {
	if err := a.requirePhase("PrepareToSort", PhaseAccepting); err != nil {
		return err
	}
	a.phase = PhaseSorting
	a.sortCursor = 0
	return nil
}

// Sort advances the sort of exactly one partition's remaining in-memory
// records per call and returns done=true once every partition has been
// sorted, at which point it also moves the aggregator to Ready, the only
// phase Cursor is legal in. Spilled runs are already ordered from the
// moment they were written, so each step only has one partition's
// in-memory work to do, matching the cooperative, non-blocking scheduling
// the rest of the aggregator's long-running operations follow.
func (a *Aggregator) Sort() (done bool, err error) {
	if err := a.requirePhase("Sort", PhaseSorting); err != nil {
		return false, err
	}
	if a.sortCursor >= len(a.parts) {
		a.phase = PhaseReady
		return true, nil
	}
	a.parts[a.sortCursor].Sort()
	a.sortCursor++
	if a.sortCursor >= len(a.parts) {
		a.phase = PhaseReady
		return true, nil
	}
	return false, nil
}

// Cursor opens a single k-way merge across every partition's remaining
// in-memory records and every run spilled for any partition, yielding
// the entire accepted multiset in one globally ordered stream. The
// caller owns the returned Cursor and must Close it once done reading,
// which releases every run file handle it opened.
func (a *Aggregator) Cursor() (*Cursor, error) {
	if err := a.requirePhase("Cursor", PhaseReady); err != nil {
		return nil, err
	}

	var srcs []source
	var closers []io.Closer
	for i, p := range a.parts {
		for _, path := range a.runPaths[i] {
			r, err := spill.OpenReader(path, a.cfg.ByteOrder)
			if err != nil {
				a.phase = PhaseBroken
				return nil, IOFailureErr{Op: "Cursor", Path: path, Cause: err}
			}
			srcs = append(srcs, &runSource{r: r})
			closers = append(closers, r)
		}
		srcs = append(srcs, &memSource{p: p})
	}

	return newCursor(a.cfg.Comparator, a.cfg.Accumulator, srcs, closers)
}

// Dispose releases every block back to the pool's allocator and frees
// any spill runs still on disk. It is idempotent and is the only
// operation permitted once the aggregator has entered Broken.
func (a *Aggregator) Dispose() error {
	if a.phase == PhaseDisposed {
		return nil
	}
	for _, p := range a.parts {
		p.releaseBlocks()
	}
	a.pool.Dispose()
	for i, paths := range a.runPaths {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				a.log.Warn("failed to remove spill run on dispose", zap.Int("partition", i), zap.String("path", p), zap.Error(err))
			}
		}
	}
	a.parts = nil
	a.runPaths = nil
	a.phase = PhaseDisposed
	return nil
}
