// Package store implements the rendered-stem store: a memory-mapped,
// append-only log of length-delimited records sealed by an 8-byte trailer.
//
// A Store is created empty and writable by the separation producer, appended
// to with Write, and sealed exactly once with Complete. Readers open their own
// handle with OpenExisting and keep an independent read position. A Store
// value must not be used from more than one goroutine at a time.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"stemgen/logger"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
)

const (
	initialSize = 1024
	trailerSize = 8
	filePrefix  = "stemgen_"
)

// Entry locates one record inside the backing file.
type Entry struct {
	ByteOffset   int
	SampleOffset uint64
}

type options struct {
	dir    string
	keep   bool
	logger *slog.Logger
}

// Option configures Create and OpenExisting.
type Option func(*options)

// WithDir places the backing file in dir instead of the system temp directory.
func WithDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dir = dir
		}
	}
}

// WithKeep prevents an owning handle from deleting its backing file on Close.
func WithKeep(keep bool) Option {
	return func(o *options) {
		o.keep = keep
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		dir:    os.TempDir(),
		logger: logger.WithComponent("store"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Path returns the backing file path for id inside dir.
func Path(dir string, id uuid.UUID) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, filePrefix+id.String())
}

type partialChunk struct {
	rec    Record
	offset int
}

func (p *partialChunk) remaining() int {
	return int(p.rec.SampleCount) - p.offset
}

// copyTo copies up to limit samples of every requested stream into bufs at
// position at, and returns the number of samples copied.
func (p *partialChunk) copyTo(bufs [StreamCount][]float32, at, limit int) int {
	count := min(p.remaining(), limit)
	for i, b := range bufs {
		if b == nil {
			continue
		}
		copy(b[at:at+count], p.rec.Streams[i][p.offset:p.offset+count])
	}
	p.offset += count
	return count
}

// Store is a handle on a rendered-stem backing file.
type Store struct {
	id     uuid.UUID
	path   string
	file   *os.File
	data   mmap.MMap
	logger *slog.Logger

	owned  bool
	keep   bool
	sealed bool
	closed bool

	entries []Entry
	indexed bool

	offset   int
	position uint64
	partial  *partialChunk

	written uint64
	total   uint64
}

// Create allocates a new backing file for id and returns a writable, owning
// Store. It fails if the file already exists.
func Create(id uuid.UUID, opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	path := Path(o.dir, id)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, &IOError{Op: "create", Path: path, Err: err}
	}
	if err := f.Truncate(initialSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, &IOError{Op: "truncate", Path: path, Err: err}
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, &IOError{Op: "map", Path: path, Err: err}
	}

	o.logger.Debug("Created store", slog.String("id", id.String()), slog.String("path", path))

	return &Store{
		id:      id,
		path:    path,
		file:    f,
		data:    data,
		logger:  o.logger.With(slog.String("id", id.String())),
		owned:   true,
		keep:    o.keep,
		indexed: true,
	}, nil
}

// OpenExisting opens the sealed backing file of id as a non-owning handle.
// The total sample count is read from the trailer.
func OpenExisting(id uuid.UUID, opts ...Option) (*Store, error) {
	o := buildOptions(opts)
	path := Path(o.dir, id)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "stat", Path: path, Err: err}
	}
	if info.Size() < trailerSize {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorruptTrailer, path, info.Size())
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, &IOError{Op: "map", Path: path, Err: err}
	}

	return &Store{
		id:     id,
		path:   path,
		file:   f,
		data:   data,
		logger: o.logger.With(slog.String("id", id.String())),
		sealed: true,
		total:  binary.BigEndian.Uint64(data[len(data)-trailerSize:]),
	}, nil
}

// ID returns the store identifier.
func (s *Store) ID() uuid.UUID {
	return s.id
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Owned reports whether this handle deletes the backing file on Close.
func (s *Store) Owned() bool {
	return s.owned
}

// TotalSamples returns the sealed sample count per stream. ok is false until
// the store is sealed.
func (s *Store) TotalSamples() (total uint64, ok bool) {
	return s.total, s.sealed
}

// WrittenSamples returns the number of samples per stream appended so far.
func (s *Store) WrittenSamples() uint64 {
	return s.written
}

// Position returns the sample index the next Read starts at.
func (s *Store) Position() uint64 {
	return s.position
}

// Entries returns the record index known to this handle.
func (s *Store) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

func (s *Store) usable() error {
	if s.closed || s.data == nil {
		return ErrClosed
	}
	return nil
}

// Write appends one record made of the original packets and StreamCount
// interleaved stereo buffers of equal length.
func (s *Store) Write(packets [][]byte, streams [][]float32) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.sealed {
		return ErrAlreadySealed
	}
	if err := validateStreams(streams); err != nil {
		return err
	}

	rec := Record{
		Packets:     packets,
		Streams:     streams,
		SampleCount: uint64(len(streams[0])),
	}
	need := EncodedLen(rec)
	if err := s.reserve(need); err != nil {
		return err
	}

	buf := AppendRecord(s.data[s.offset:s.offset], rec)
	if len(buf) != need {
		return fmt.Errorf("store: encoded %d bytes, expected %d", len(buf), need)
	}
	s.entries = append(s.entries, Entry{ByteOffset: s.offset, SampleOffset: s.written})
	s.offset += need
	s.written += rec.SampleCount
	return nil
}

// reserve makes sure need bytes are mapped past the write cursor.
func (s *Store) reserve(need int) error {
	if s.offset+need <= len(s.data) {
		return nil
	}
	size := max(s.offset+need, 2*len(s.data))
	if err := s.remap(int64(size), mmap.RDWR); err != nil {
		return err
	}
	s.logger.Debug("Grew store mapping", slog.Int("size", size))
	return nil
}

func (s *Store) remap(size int64, prot int) error {
	if err := s.data.Flush(); err != nil {
		return &IOError{Op: "flush", Path: s.path, Err: err}
	}
	if err := s.data.Unmap(); err != nil {
		return &IOError{Op: "unmap", Path: s.path, Err: err}
	}
	s.data = nil
	if err := s.file.Truncate(size); err != nil {
		return &IOError{Op: "truncate", Path: s.path, Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &IOError{Op: "sync", Path: s.path, Err: err}
	}
	data, err := mmap.Map(s.file, prot, 0)
	if err != nil {
		return &IOError{Op: "map", Path: s.path, Err: err}
	}
	s.data = data
	return nil
}

// Complete seals the store: the records are flushed, the written sample
// count is appended as the trailer and flushed, the file is truncated to its
// exact length and the read cursor is reset to the first record.
func (s *Store) Complete() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.sealed {
		return ErrAlreadySealed
	}
	if err := s.reserve(trailerSize); err != nil {
		return err
	}
	// Records must be durable before the trailer that vouches for them.
	if err := s.data.Flush(); err != nil {
		return &IOError{Op: "flush", Path: s.path, Err: err}
	}

	binary.BigEndian.PutUint64(s.data[s.offset:], s.written)
	end := s.offset + trailerSize
	if err := s.remap(int64(end), mmap.RDONLY); err != nil {
		return err
	}

	s.sealed = true
	s.total = s.written
	s.offset = 0
	s.position = 0
	s.partial = nil

	s.logger.Debug("Sealed store",
		slog.Uint64("samples", s.total),
		slog.Int("records", len(s.entries)),
		slog.Int("bytes", end))
	return nil
}

func (s *Store) end() int {
	return len(s.data) - trailerSize
}

// Read copies the next samples of each requested stream into bufs. Streams
// whose buffer is nil are skipped. All provided buffers must have the same
// length; the number of samples copied is returned and is only shorter than
// that length at the end of the store.
func (s *Store) Read(bufs [StreamCount][]float32) (int, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	if !s.sealed {
		return 0, ErrNotSealed
	}

	want := -1
	for i, b := range bufs {
		if b == nil {
			continue
		}
		if want < 0 {
			want = len(b)
		} else if len(b) != want {
			return 0, fmt.Errorf("%w: buffer %d has %d samples, expected %d", ErrMismatchedBufferLength, i, len(b), want)
		}
	}
	if want < 0 {
		return 0, fmt.Errorf("%w: no buffer provided", ErrMismatchedBufferLength)
	}

	n := 0
	if s.partial != nil {
		n += s.partial.copyTo(bufs, 0, want)
		if s.partial.remaining() == 0 {
			s.partial = nil
		}
	}
	for n < want && s.offset < s.end() {
		rec, size, err := DecodeRecord(s.data[s.offset:s.end()])
		if err != nil {
			s.position += uint64(n)
			return n, err
		}
		s.offset += size
		p := &partialChunk{rec: rec}
		n += p.copyTo(bufs, n, want-n)
		if p.remaining() > 0 {
			s.partial = p
		}
	}
	s.position += uint64(n)
	return n, nil
}

// Reopen returns a new non-owning handle on the same sealed backing file,
// with its own read position.
func (s *Store) Reopen() (*Store, error) {
	if !s.sealed {
		return nil, ErrNotSealed
	}
	return OpenExisting(s.id, WithDir(filepath.Dir(s.path)), WithLogger(s.logger))
}

// Close releases the mapping. An owning handle also removes the backing file;
// removal failures are logged and otherwise ignored.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.data != nil {
		if uerr := s.data.Unmap(); uerr != nil {
			err = &IOError{Op: "unmap", Path: s.path, Err: uerr}
		}
		s.data = nil
	}
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = &IOError{Op: "close", Path: s.path, Err: cerr}
	}

	if s.owned && !s.keep {
		if rerr := os.Remove(s.path); rerr != nil {
			s.logger.Warn("Failed to remove store file", slog.String("path", s.path), slog.Any("error", rerr))
		} else {
			s.logger.Debug("Removed store file", slog.String("path", s.path))
		}
	}
	return err
}
