// Package batch splits many source files into stems. Every file runs through
// decode, separation, the store, export and optional packaging; a failure
// only marks that file as failed and the batch moves on.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"stemgen/catalog"
	"stemgen/logger"
	"stemgen/separator"
	"stemgen/stemfile"
	"stemgen/store"
	"stemgen/track"
	"stemgen/waveform"

	"github.com/google/uuid"
)

// DefaultReadSize is the number of interleaved samples decoded per step.
const DefaultReadSize = 1 << 16

var emptyStreams = make([][]float32, store.StreamCount)

// Ledger records finished jobs. *catalog.Catalog implements it.
type Ledger interface {
	Record(ctx context.Context, j catalog.Job) error
	Processed(ctx context.Context, source string) (bool, error)
}

// Options configures a Runner.
type Options struct {
	OutputDir     string
	StoreDir      string
	KeepStores    bool
	Mode          stemfile.Mode
	Overlap       float64
	Power         float64
	ReadSize      int
	Quality       int    // resampling quality
	FFmpeg        string // decode FFmpegExtensions through this executable when set
	Precision     int
	Buckets       int
	Overwrite     bool
	Stems         []stemfile.Stem
	Workers       int
	Muxer         stemfile.Muxer // optional
	MuxExt        string         // extension of packaged files, e.g. ".stem.m4a"
	Ledger        Ledger         // optional
	SkipProcessed bool
}

// Result is the outcome for one file.
type Result struct {
	Path     string
	StoreID  uuid.UUID
	Samples  uint64
	Output   stemfile.Output
	Packaged string
	Stems    []stemfile.Stem
	Skipped  bool
	Failed   bool
	Err      error
}

// EventKind identifies a progress notification.
type EventKind int

const (
	FileStarted EventKind = iota
	FileProgress
	FileFinished
)

// Event is sent to the Notify callback.
type Event struct {
	Kind     EventKind
	Index    int
	Path     string
	Progress float64
	Result   *Result // set for FileFinished
}

// Runner splits files with one model.
type Runner struct {
	model  separator.Model
	opts   Options
	logger *slog.Logger

	// Notify receives progress events. It is called from worker goroutines
	// and from Run itself, so it must be safe for concurrent use.
	Notify func(Event)
}

// New creates a runner. With more than one worker the model must be safe
// for concurrent use.
func New(model separator.Model, opts Options) *Runner {
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	opts.ReadSize -= opts.ReadSize % 2
	if opts.Mode == "" {
		opts.Mode = stemfile.Preserve
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buckets <= 0 {
		opts.Buckets = waveform.DefaultBuckets
	}
	if len(opts.Stems) == 0 {
		opts.Stems = stemfile.DefaultStems()
	}
	if opts.MuxExt == "" {
		opts.MuxExt = ".stem.m4a"
	}
	return &Runner{
		model:  model,
		opts:   opts,
		logger: logger.WithComponent("batch"),
	}
}

func (r *Runner) notify(e Event) {
	if r.Notify != nil {
		r.Notify(e)
	}
}

// Run processes paths and returns one result per path, in input order.
// Cancelling ctx fails the files still in flight and the ones not started;
// both are recorded and reported like any other failure.
func (r *Runner) Run(ctx context.Context, paths []string) []Result {
	results := make([]Result, len(paths))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < min(r.opts.Workers, max(1, len(paths))); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.runOne(ctx, i, paths[i])
			}
		}()
	}

	for i := range paths {
		if err := ctx.Err(); err != nil {
			res := Result{Path: paths[i], StoreID: uuid.New(), Failed: true, Err: err}
			r.finish(ctx, i, &res, time.Now())
			results[i] = res
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Failed {
			failed++
		}
	}
	r.logger.Info("Batch finished", slog.Int("files", len(paths)), slog.Int("failed", failed))
	return results
}

func (r *Runner) runOne(ctx context.Context, index int, path string) Result {
	log := r.logger.With(slog.String("file", path))
	started := time.Now()

	if r.opts.SkipProcessed && r.opts.Ledger != nil {
		done, err := r.opts.Ledger.Processed(ctx, path)
		if err != nil {
			log.Warn("Failed to query catalog", slog.Any("error", err))
		} else if done {
			log.Info("Skipping already processed file")
			res := Result{Path: path, Skipped: true}
			r.notify(Event{Kind: FileFinished, Index: index, Path: path, Progress: 1, Result: &res})
			return res
		}
	}

	r.notify(Event{Kind: FileStarted, Index: index, Path: path})
	res := Result{Path: path, StoreID: uuid.New()}
	if err := r.split(ctx, index, &res); err != nil {
		res.Failed = true
		res.Err = err
		log.Error("Failed to split file", slog.Any("error", err))
	} else {
		log.Info("Split file", slog.Uint64("samples", res.Samples), slog.Duration("took", time.Since(started)))
	}

	r.finish(ctx, index, &res, started)
	return res
}

// finish records res in the ledger and reports it.
func (r *Runner) finish(ctx context.Context, index int, res *Result, started time.Time) {
	if r.opts.Ledger != nil {
		job := catalog.Job{
			ID:        res.StoreID,
			Source:    res.Path,
			OutputDir: r.opts.OutputDir,
			Mode:      string(r.opts.Mode),
			Samples:   res.Samples,
			Failed:    res.Failed,
			Started:   started,
			Finished:  time.Now(),
		}
		if res.Err != nil {
			job.Error = res.Err.Error()
		}
		// Recorded even when ctx is cancelled so the failure is kept.
		if err := r.opts.Ledger.Record(context.WithoutCancel(ctx), job); err != nil {
			r.logger.Warn("Failed to record job", slog.String("file", res.Path), slog.Any("error", err))
		}
	}
	r.notify(Event{Kind: FileFinished, Index: index, Path: res.Path, Progress: 1, Result: res})
}

func (r *Runner) split(ctx context.Context, index int, res *Result) error {
	preserve := r.opts.Mode == stemfile.Preserve
	topts := []track.Option{track.WithPackets(preserve), track.WithResampleQuality(r.opts.Quality)}
	if r.opts.FFmpeg != "" {
		topts = append(topts, track.WithFFmpeg(r.opts.FFmpeg))
	}
	t, err := track.Open(res.Path, topts...)
	if err != nil {
		return err
	}
	defer t.Close()

	st, err := store.Create(res.StoreID, store.WithDir(r.opts.StoreDir), store.WithKeep(r.opts.KeepStores))
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := separator.NewEngine(r.model, r.opts.Overlap, r.opts.Power)
	if err != nil {
		return err
	}

	buf := make([]float32, r.opts.ReadSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, packets, err := t.Next(buf)
		if errors.Is(err, io.EOF) {
			if len(packets) > 0 {
				if err := st.Write(packets, emptyStreams); err != nil {
					return err
				}
			}
			break
		}
		if err != nil {
			return err
		}
		chunk, err := engine.Send(ctx, buf[:n])
		if err != nil {
			return err
		}
		if chunk.Len() > 0 || len(packets) > 0 {
			if err := st.Write(packets, chunk.Streams()); err != nil {
				return err
			}
		}
		r.notify(Event{Kind: FileProgress, Index: index, Path: res.Path, Progress: t.Progress()})
	}

	chunk, err := engine.Flush(ctx)
	if err != nil {
		return err
	}
	if chunk.Len() > 0 {
		if err := st.Write(nil, chunk.Streams()); err != nil {
			return err
		}
	}
	if err := st.Complete(); err != nil {
		return err
	}
	res.Samples, _ = st.TotalSamples()
	r.logger.Debug("Separated file",
		slog.String("file", res.Path),
		slog.Int64("bytes", t.Size()),
		slog.Int("frames", t.Frames()),
		slog.Int("segments", engine.Segments()),
		slog.Int("segment_length", engine.SegmentLength()))

	stems := make([]stemfile.Stem, len(r.opts.Stems))
	copy(stems, r.opts.Stems)
	for i := range stems {
		peaks, err := waveform.FromStore(st, i+1, r.opts.Buckets)
		if err != nil {
			return fmt.Errorf("failed to build waveform: %w", err)
		}
		stems[i].Waveform = peaks
	}
	res.Stems = stems

	base := stemfile.BaseName(res.Path)
	out, err := stemfile.Export(st, stemfile.Options{
		Dir:       r.opts.OutputDir,
		Base:      base,
		Mode:      r.opts.Mode,
		SourceExt: filepath.Ext(res.Path),
		Precision: r.opts.Precision,
		Overwrite: r.opts.Overwrite,
		Stems:     stems,
	})
	if err != nil {
		return err
	}
	res.Output = out

	if r.opts.Muxer != nil {
		dest := filepath.Join(r.opts.OutputDir, base+r.opts.MuxExt)
		if err := r.opts.Muxer.Package(ctx, out, stems, dest); err != nil {
			return err
		}
		res.Packaged = dest
	}
	return nil
}
