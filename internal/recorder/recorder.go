// Package recorder persists the snapshot stream of simulation runs. A
// recording is a zstd-compressed sequence of msgpack values: one Header
// followed by one model.Snapshot per tick.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// FormatVersion is written into every header.
const FormatVersion = 1

// Extension is the conventional file suffix.
const Extension = ".msgpack.zst"

var (
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("recorder: closed")
	// ErrVersion is returned when a recording has an unknown format version.
	ErrVersion = errors.New("recorder: unsupported format version")
)

// Header describes a recording.
type Header struct {
	Version   int               `msgpack:"version"`
	CreatedAt time.Time         `msgpack:"created_at"`
	Meta      map[string]string `msgpack:"meta,omitempty"`
}

// Writer appends snapshots to a recording. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	zw     *zstd.Encoder
	enc    *msgpack.Encoder
	closer io.Closer
	count  int
	err    error
	closed bool
}

// NewWriter writes h to w and returns a writer for the snapshots.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	h.Version = FormatVersion
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	enc := msgpack.NewEncoder(zw)
	if err := enc.Encode(h); err != nil {
		zw.Close()
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	return &Writer{zw: zw, enc: enc}, nil
}

// Create opens path for writing, creating parent directories.
func Create(path string, h Header) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write appends snap.
func (w *Writer) Write(snap model.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.enc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot %d: %w", snap.Tick, err)
	}
	w.count++
	return nil
}

// Observe is Write shaped as a snapshot listener. The first failure is kept
// and returned by Close.
func (w *Writer) Observe(snap model.Snapshot) {
	if err := w.Write(snap); err != nil {
		w.mu.Lock()
		if w.err == nil {
			w.err = err
		}
		w.mu.Unlock()
	}
}

// Count returns the number of snapshots written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes the compressed stream and closes the underlying file, if
// Create opened it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.err
	if cerr := w.zw.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close zstd writer: %w", cerr)
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Reader iterates over a recording.
type Reader struct {
	zr     *zstd.Decoder
	dec    *msgpack.Decoder
	header Header
	closer io.Closer
}

// NewReader reads the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	dec := msgpack.NewDecoder(zr)
	var h Header
	if err := dec.Decode(&h); err != nil {
		zr.Close()
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if h.Version != FormatVersion {
		zr.Close()
		return nil, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return &Reader{zr: zr, dec: dec, header: h}, nil
}

// Open opens the recording at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Header returns the recording header.
func (r *Reader) Header() Header { return r.header }

// Next returns the next snapshot, or io.EOF at the end of the recording.
func (r *Reader) Next() (model.Snapshot, error) {
	var snap model.Snapshot
	if err := r.dec.Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Snapshot{}, io.EOF
		}
		return model.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Close releases the decoder and the file opened by Open.
func (r *Reader) Close() error {
	r.zr.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ReadAll loads every snapshot at path.
func ReadAll(path string) (Header, []model.Snapshot, error) {
	r, err := Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer r.Close()

	var snaps []model.Snapshot
	for {
		snap, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Header(), snaps, nil
		}
		if err != nil {
			return r.Header(), snaps, err
		}
		snaps = append(snaps, snap)
	}
}
