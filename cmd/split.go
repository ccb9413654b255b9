package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"stemgen/batch"
	"stemgen/catalog"
	"stemgen/config"
	"stemgen/separator"
	"stemgen/stemfile"
	"stemgen/track"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressScale is the bar resolution for per-file progress.
const progressScale = 1000

// splitCmd separates source files into stems
var splitCmd = &cobra.Command{
	Use:   "split FILE...",
	Short: "Separate audio files into stems",
	Long: `Decode each file, run the separation model over overlapping segments,
and export the master and the four stems to the output directory.

A file that fails is reported and recorded in the catalog; the remaining
files are still processed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)

	splitCmd.Flags().String("model", "", "separation command run once per segment")
	splitCmd.Flags().StringSlice("model-arg", nil, "extra argument passed to the separation command")
	splitCmd.Flags().Int("segment-length", separator.DefaultSegmentLength, "model segment length per channel")
	splitCmd.Flags().Float64("overlap", 0.25, "overlap ratio between consecutive segments")
	splitCmd.Flags().Float64("power", 1, "transition power of the blending window")
	splitCmd.Flags().IntP("workers", "j", 1, "files processed concurrently")
	splitCmd.Flags().StringP("out", "o", ".", "output directory")
	splitCmd.Flags().String("mode", string(stemfile.Preserve), "master output mode (preserve, consistent)")
	splitCmd.Flags().Bool("overwrite", false, "replace existing output files")
	splitCmd.Flags().Bool("package", false, "package master and stems into one container with ffmpeg")
	splitCmd.Flags().Bool("keep-store", false, "keep the intermediate store for previewing")
	splitCmd.Flags().Bool("ffmpeg-decode", false, "decode formats beep cannot read (m4a, ogg, ...) with ffmpeg")
	splitCmd.Flags().Bool("skip-processed", false, "skip files the catalog lists as done")

	viper.BindPFlag("separation.command", splitCmd.Flags().Lookup("model"))
	viper.BindPFlag("separation.args", splitCmd.Flags().Lookup("model-arg"))
	viper.BindPFlag("separation.segment_length", splitCmd.Flags().Lookup("segment-length"))
	viper.BindPFlag("separation.overlap", splitCmd.Flags().Lookup("overlap"))
	viper.BindPFlag("separation.power", splitCmd.Flags().Lookup("power"))
	viper.BindPFlag("separation.workers", splitCmd.Flags().Lookup("workers"))
	viper.BindPFlag("output.dir", splitCmd.Flags().Lookup("out"))
	viper.BindPFlag("output.mode", splitCmd.Flags().Lookup("mode"))
	viper.BindPFlag("output.overwrite", splitCmd.Flags().Lookup("overwrite"))
	viper.BindPFlag("output.package", splitCmd.Flags().Lookup("package"))
	viper.BindPFlag("store.keep", splitCmd.Flags().Lookup("keep-store"))
	viper.BindPFlag("input.ffmpeg_decode", splitCmd.Flags().Lookup("ffmpeg-decode"))
	viper.BindPFlag("catalog.skip_processed", splitCmd.Flags().Lookup("skip-processed"))
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	if cfg.Separation.Command == "" {
		return &config.ConfigError{Field: "separation.command", Message: "a separation command is required (--model)"}
	}

	for _, path := range args {
		if !track.Supported(path) && !(cfg.Input.FFmpegDecode && track.SupportedByFFmpeg(path)) {
			slog.Warn("Unsupported extension, the file will fail", slog.String("file", path))
		}
	}

	opts, cleanup, err := batchOptions(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	model := separator.NewCommandModel(cfg.Separation.Command, cfg.Separation.SegmentLength, cfg.Separation.Args...)
	runner := batch.New(model, opts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	progress := mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithOutput(cmd.OutOrStdout()))
	total := progress.AddBar(int64(len(args)),
		mpb.PrependDecorators(
			decor.Name("Splitting: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)

	var (
		mu   sync.Mutex
		bars = make(map[int]*mpb.Bar)
	)
	runner.Notify = func(e batch.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Kind {
		case batch.FileStarted:
			bars[e.Index] = progress.AddBar(progressScale,
				mpb.BarRemoveOnComplete(),
				mpb.PrependDecorators(decor.Name(stemfile.BaseName(e.Path), decor.WCSyncSpaceR)),
				mpb.AppendDecorators(decor.Percentage()),
			)
		case batch.FileProgress:
			if bar, ok := bars[e.Index]; ok {
				bar.SetCurrent(int64(e.Progress * progressScale))
			}
		case batch.FileFinished:
			if bar, ok := bars[e.Index]; ok {
				if e.Result.Failed {
					bar.Abort(true)
				} else {
					bar.SetCurrent(progressScale)
				}
				delete(bars, e.Index)
			}
			total.Increment()
		}
	}

	results := runner.Run(ctx, args)
	progress.Wait()

	return report(cmd, results)
}

func batchOptions(cfg *config.Config) (batch.Options, func(), error) {
	mode, err := stemfile.ParseMode(cfg.Output.Mode)
	if err != nil {
		return batch.Options{}, nil, err
	}
	opts := batch.Options{
		OutputDir:     cfg.Output.Dir,
		Quality:       cfg.Input.ResampleQuality,
		StoreDir:      cfg.Store.Dir,
		KeepStores:    cfg.Store.Keep,
		Mode:          mode,
		Overlap:       cfg.Separation.Overlap,
		Power:         cfg.Separation.Power,
		Precision:     cfg.Output.Precision,
		Overwrite:     cfg.Output.Overwrite,
		Stems:         cfg.Stems(),
		Workers:       cfg.Separation.Workers,
		SkipProcessed: cfg.Catalog.SkipProcessed,
	}

	if cfg.Input.FFmpegDecode {
		opts.FFmpeg = cfg.Output.FFmpeg
	}

	if cfg.Output.Package {
		p := &stemfile.Packager{Exec: cfg.Output.FFmpeg, Codec: cfg.Output.Codec, Bitrate: cfg.Output.Bitrate}
		if !p.Available() {
			return batch.Options{}, nil, fmt.Errorf("packaging requested but %s was not found", p.Exec)
		}
		opts.Muxer = p
	}

	cleanup := func() {}
	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return batch.Options{}, nil, err
		}
		opts.Ledger = cat
		cleanup = func() {
			if err := cat.Close(); err != nil {
				slog.Warn("Failed to close catalog", slog.Any("error", err))
			}
		}
	}
	return opts, cleanup, nil
}

func report(cmd *cobra.Command, results []batch.Result) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, res := range results {
		switch {
		case res.Skipped:
			fmt.Fprintf(out, "⏭️  %s (already processed)\n", res.Path)
		case res.Failed:
			failed++
			fmt.Fprintf(out, "❌ %s: %v\n", res.Path, res.Err)
		default:
			fmt.Fprintf(out, "✅ %s -> %s\n", res.Path, res.Output.Master)
			if viper.GetBool("store.keep") {
				fmt.Fprintf(out, "   store %s\n", res.StoreID)
			}
			if res.Packaged != "" {
				fmt.Fprintf(out, "   packaged %s\n", res.Packaged)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}
