// Package track decodes source audio files into interleaved stereo float32
// at the separation sample rate.
package track

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
)

// SampleRate is the rate every decoded track is resampled to.
const SampleRate beep.SampleRate = 44100

var ErrUnsupportedFormat = errors.New("track: unsupported format")

// Extensions lists the file extensions Open can decode.
var Extensions = []string{".mp3", ".wav", ".flac"}

// Supported reports whether path has a decodable extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

type options struct {
	quality int
	packets bool
	ffmpeg  string
}

// Option configures Open.
type Option func(*options)

// WithResampleQuality sets the beep resampling quality (1 to 64).
func WithResampleQuality(q int) Option {
	return func(o *options) {
		if q > 0 {
			o.quality = q
		}
	}
}

// WithPackets keeps the raw file bytes consumed by the decoder so they can
// be passed through untouched.
func WithPackets(keep bool) Option {
	return func(o *options) {
		o.packets = keep
	}
}

// WithFFmpeg decodes the FFmpegExtensions formats by piping the file through
// the ffmpeg executable at path.
func WithFFmpeg(path string) Option {
	return func(o *options) {
		o.ffmpeg = path
	}
}

// Track is an open source file.
type Track struct {
	Path   string
	Format beep.Format

	file     *os.File
	size     int64
	tee      *teeReader
	decoder  beep.StreamCloser
	streamer beep.Streamer
	scratch  [][2]float64
	frames   int
}

// Open opens and starts decoding path.
func Open(path string, opts ...Option) (*Track, error) {
	o := options{quality: 4}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat track: %w", err)
	}

	tee := &teeReader{r: f, keep: o.packets}
	var (
		decoder beep.StreamCloser
		format  beep.Format
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		decoder, format, err = mp3.Decode(tee)
	case ".wav":
		decoder, format, err = wav.Decode(tee)
	case ".flac":
		decoder, format, err = flac.Decode(tee)
	default:
		if o.ffmpeg != "" && SupportedByFFmpeg(path) {
			decoder, format, err = decodeFFmpeg(o.ffmpeg, tee)
			break
		}
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	var streamer beep.Streamer = decoder
	if format.SampleRate != SampleRate {
		streamer = beep.Resample(o.quality, format.SampleRate, SampleRate, decoder)
	}

	return &Track{
		Path:     path,
		Format:   format,
		file:     f,
		size:     info.Size(),
		tee:      tee,
		decoder:  decoder,
		streamer: streamer,
	}, nil
}

// Next decodes up to len(buf)/2 frames into buf as interleaved stereo and
// returns the number of samples written together with the raw file bytes
// consumed since the previous call. It returns io.EOF once the track is
// exhausted.
func (t *Track) Next(buf []float32) (int, [][]byte, error) {
	frames := len(buf) / 2
	if cap(t.scratch) < frames {
		t.scratch = make([][2]float64, frames)
	}
	scratch := t.scratch[:frames]

	n, ok := t.streamer.Stream(scratch)
	for i := 0; i < n; i++ {
		buf[2*i] = float32(scratch[i][0])
		buf[2*i+1] = float32(scratch[i][1])
	}
	t.frames += n
	packets := t.tee.take()

	if !ok || n == 0 {
		if err := t.streamer.Err(); err != nil {
			return 2 * n, packets, fmt.Errorf("failed to decode %s: %w", t.Path, err)
		}
		if n == 0 {
			return 0, packets, io.EOF
		}
	}
	return 2 * n, packets, nil
}

// Frames returns the number of frames decoded so far at SampleRate.
func (t *Track) Frames() int {
	return t.frames
}

// Progress returns the fraction of the source file consumed by the decoder.
func (t *Track) Progress() float64 {
	if t.size == 0 {
		return 1
	}
	return min(1, float64(t.tee.read())/float64(t.size))
}

// Size returns the source file size in bytes.
func (t *Track) Size() int64 {
	return t.size
}

// Close releases the decoder and the file.
func (t *Track) Close() error {
	err := t.decoder.Close()
	if cerr := t.file.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

// teeReader records the bytes a decoder reads from the file. The ffmpeg
// decoder reads it from another goroutine.
type teeReader struct {
	r       io.Reader
	keep    bool
	mu      sync.Mutex
	pending []byte
	total   int64
}

func (t *teeReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += int64(n)
	if t.keep && n > 0 {
		t.pending = append(t.pending, p[:n]...)
	}
	return n, err
}

func (t *teeReader) Close() error {
	if c, ok := t.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *teeReader) read() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *teeReader) take() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) == 0 {
		return nil
	}
	p := t.pending
	t.pending = nil
	return [][]byte{p}
}
