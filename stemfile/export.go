package stemfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stemgen/logger"
	"stemgen/store"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// Mode selects how the master stream is written.
type Mode string

const (
	// Preserve writes the original file bytes untouched.
	Preserve Mode = "preserve"
	// Consistent encodes the master the same way as the stems.
	Consistent Mode = "consistent"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case Preserve, Consistent:
		return m, nil
	default:
		return "", fmt.Errorf("unknown output mode %q", s)
	}
}

var ErrExists = errors.New("stemfile: output already exists")

// Source is the read side of a sealed store.
type Source interface {
	TotalSamples() (uint64, bool)
	Read(bufs [store.StreamCount][]float32) (int, error)
	Seek(progress float32) (uint64, error)
	ForEach(fn func(store.Record) error) error
}

// Options controls Export.
type Options struct {
	Dir       string
	Base      string
	Mode      Mode
	SourceExt string // extension of the original file, used in Preserve mode
	Precision int    // bytes per WAV sample
	Overwrite bool
	Stems     []Stem
}

// Output lists the files written by Export.
type Output struct {
	Master   string
	Stems    []string
	Manifest string
}

// Files returns the audio files, master first.
func (o Output) Files() []string {
	return append([]string{o.Master}, o.Stems...)
}

// Export writes the master, one WAV per stem and the manifest.
func Export(src Source, opts Options) (Output, error) {
	log := logger.WithComponent("stemfile")
	if _, ok := src.TotalSamples(); !ok {
		return Output{}, store.ErrNotSealed
	}
	if opts.Precision == 0 {
		opts.Precision = 2
	}
	if len(opts.Stems) == 0 {
		opts.Stems = DefaultStems()
	}
	if len(opts.Stems) != store.StreamCount-1 {
		return Output{}, fmt.Errorf("stemfile: %d stems, want %d", len(opts.Stems), store.StreamCount-1)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return Output{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	out := Output{
		Manifest: filepath.Join(opts.Dir, opts.Base+".stems.json"),
	}
	if opts.Mode == Preserve {
		out.Master = filepath.Join(opts.Dir, opts.Base+".original"+opts.SourceExt)
	} else {
		out.Master = filepath.Join(opts.Dir, opts.Base+".master.wav")
	}
	for _, s := range opts.Stems {
		out.Stems = append(out.Stems, filepath.Join(opts.Dir, opts.Base+"."+Slug(s.Name)+".wav"))
	}

	if !opts.Overwrite {
		for _, f := range append(out.Files(), out.Manifest) {
			if _, err := os.Stat(f); err == nil {
				return Output{}, fmt.Errorf("%w: %s", ErrExists, f)
			}
		}
	}

	if opts.Mode == Preserve {
		if err := writePackets(src, out.Master); err != nil {
			return Output{}, err
		}
	} else if err := writeStream(src, 0, out.Master, opts.Precision); err != nil {
		return Output{}, err
	}
	for i, path := range out.Stems {
		if err := writeStream(src, i+1, path, opts.Precision); err != nil {
			return Output{}, err
		}
	}

	f, err := os.Create(out.Manifest)
	if err != nil {
		return Output{}, fmt.Errorf("failed to create manifest: %w", err)
	}
	defer f.Close()
	if err := NewManifest(opts.Stems).Encode(f); err != nil {
		return Output{}, fmt.Errorf("failed to write manifest: %w", err)
	}

	log.Info("Exported stems", slog.String("dir", opts.Dir), slog.String("base", opts.Base), slog.String("mode", string(opts.Mode)))
	return out, nil
}

func writePackets(src Source, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	n := 0
	err = src.ForEach(func(rec store.Record) error {
		for _, p := range rec.Packets {
			if _, err := f.Write(p); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to write %s: store holds no original packets", path)
	}
	return f.Close()
}

func writeStream(src Source, index int, path string, precision int) error {
	if _, err := src.Seek(0); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	s := &streamReader{src: src, index: index}
	format := beep.Format{SampleRate: 44100, NumChannels: 2, Precision: precision}
	if err := wav.Encode(f, s, format); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if s.err != nil {
		return fmt.Errorf("failed to read stream %d: %w", index, s.err)
	}
	return f.Close()
}

// streamReader exposes one stream of a store as a beep.Streamer.
type streamReader struct {
	src   Source
	index int
	buf   []float32
	err   error
}

func (s *streamReader) Stream(samples [][2]float64) (int, bool) {
	if s.err != nil {
		return 0, false
	}
	if cap(s.buf) < 2*len(samples) {
		s.buf = make([]float32, 2*len(samples))
	}
	var bufs [store.StreamCount][]float32
	bufs[s.index] = s.buf[:2*len(samples)]
	n, err := s.src.Read(bufs)
	if err != nil {
		s.err = err
		return 0, false
	}
	frames := n / 2
	for i := 0; i < frames; i++ {
		samples[i][0] = float64(bufs[s.index][2*i])
		samples[i][1] = float64(bufs[s.index][2*i+1])
	}
	return frames, frames > 0
}

func (s *streamReader) Err() error {
	return s.err
}
