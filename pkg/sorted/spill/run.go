// Package spill implements the sorted aggregator's on-disk run format:
// records ordered by the active comparator, written once per spill pass
// and merged by the cursor alongside whatever remains in memory.
//
// A run has no header and no checksum - it is transient, produced and
// consumed only by the process that wrote it, exactly as specified for
// the spill file format.
package spill

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/flowlake/corepipe/pkg/sorted/tuplecodec"
)

// PartitionDir returns the directory a given partition's runs live
// under: <spillDir>/partition-<i>.
func PartitionDir(spillDir string, partition int) string {
	return filepath.Join(spillDir, fmt.Sprintf("partition-%d", partition))
}

// RunPath returns the final path of a run with the given monotonic id.
func RunPath(partitionDir string, runID int64) string {
	return filepath.Join(partitionDir, fmt.Sprintf("run-%d", runID))
}

// Writer appends records to a run file under a temporary name; Finalize
// renames it into place atomically so a reader never observes a
// half-written run.
type Writer struct {
	bo       binary.ByteOrder
	tmpPath  string
	finalPath string
	f        *os.File
	w        *bufio.Writer
	scratch  []byte
}

// NewWriter creates the partition directory if needed and opens a fresh
// temporary run file for writing.
func NewWriter(partitionDir string, runID int64, bo binary.ByteOrder) (*Writer, error) {
	if err := os.MkdirAll(partitionDir, 0o755); err != nil {
		return nil, err
	}
	final := RunPath(partitionDir, runID)
	tmp := final + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Writer{
		bo:        bo,
		tmpPath:   tmp,
		finalPath: final,
		f:         f,
		w:         bufio.NewWriter(f),
	}, nil
}

// WriteRecord appends one (key, value) record.
func (w *Writer) WriteRecord(key, value []byte) error {
	need := tuplecodec.Size(key, value)
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	buf := w.scratch[:need]
	tuplecodec.Encode(buf, key, value, w.bo)
	_, err := w.w.Write(buf)
	return err
}

// Finalize flushes, closes, and atomically renames the run into its
// final path, returning that path. The file is not fsynced.
func (w *Writer) Finalize() (string, error) {
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return "", err
	}
	if err := w.f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return "", err
	}
	return w.finalPath, nil
}

// Abort discards the in-progress run file, used when writing a
// partition's records into it fails.
func (w *Writer) Abort() error {
	_ = w.f.Close()
	return os.Remove(w.tmpPath)
}

// Reader reads records back out of a finalized run file in the order
// they were written, which is the order the comparator produced them
// in.
type Reader struct {
	bo     binary.ByteOrder
	f      *os.File
	r      *bufio.Reader
	header [8]byte
}

// OpenReader opens an existing run file for sequential reading.
func OpenReader(path string, bo binary.ByteOrder) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{bo: bo, f: f, r: bufio.NewReader(f)}, nil
}

// Next reads the next record, returning io.EOF once the run is
// exhausted. The returned slices are only valid until the next call to
// Next.
func (r *Reader) Next() (key, value []byte, err error) {
	if _, err := io.ReadFull(r.r, r.header[:4]); err != nil {
		return nil, nil, err
	}
	keyLen := r.bo.Uint32(r.header[:4])
	key = make([]byte, keyLen)
	if _, err := io.ReadFull(r.r, key); err != nil {
		return nil, nil, io.ErrUnexpectedEOF
	}
	if _, err := io.ReadFull(r.r, r.header[:4]); err != nil {
		return nil, nil, io.ErrUnexpectedEOF
	}
	valLen := r.bo.Uint32(r.header[:4])
	value = make([]byte, valLen)
	if _, err := io.ReadFull(r.r, value); err != nil {
		return nil, nil, io.ErrUnexpectedEOF
	}
	return key, value, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }
