package store

import "errors"

var (
	// ErrNotFound is returned by OpenExisting when the backing file is absent.
	ErrNotFound = errors.New("store: backing file not found")
	// ErrCorruptRecord is returned when a record cannot be decoded.
	ErrCorruptRecord = errors.New("store: corrupt record")
	// ErrCorruptTrailer is returned when the sealed trailer cannot be parsed.
	ErrCorruptTrailer = errors.New("store: corrupt trailer")
	// ErrInvalidBufferShape is returned by Write for a wrong buffer count or uneven lengths.
	ErrInvalidBufferShape = errors.New("store: invalid buffer shape")
	// ErrMismatchedBufferLength is returned by Read when the provided buffers differ in length.
	ErrMismatchedBufferLength = errors.New("store: mismatched buffer length")
	ErrAlreadySealed          = errors.New("store: already sealed")
	ErrNotSealed              = errors.New("store: not sealed")
	ErrClosed                 = errors.New("store: closed")
)

// IOError reports a filesystem failure on the backing file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return "store: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}
