package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"stemgen/playback"
	"stemgen/stemfile"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// playCmd previews a separated store
var playCmd = &cobra.Command{
	Use:   "play STORE-ID",
	Short: "Preview a separated store",
	Long: `Play a store kept by "split --keep-store" with a mix of its stems.

While playing, commands are read from stdin, one per line:
  play               start playback with the current mix
  stop               stop playback
  seek <0..1>        jump to a fraction of the track
  mute <stem>        mute a stem by name or index
  unmute <stem>      unmute a stem
  quit               exit`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringSlice("mute", nil, "stems muted at start (name or index)")
	playCmd.Flags().Int("window", playback.DefaultWindow, "samples mixed per buffer")
	playCmd.Flags().Int("low-water", playback.DefaultLowWater, "queued buffers before the scheduler waits")
	playCmd.Flags().Duration("buffer", 0, "speaker buffer duration")
	playCmd.Flags().Float64("volume", 0, "volume in base-2 exponent steps")

	viper.BindPFlag("playback.window", playCmd.Flags().Lookup("window"))
	viper.BindPFlag("playback.low_water", playCmd.Flags().Lookup("low-water"))
	viper.BindPFlag("playback.volume", playCmd.Flags().Lookup("volume"))
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid store id %q: %w", args[0], err)
	}

	stems := cfg.Stems()
	muted, _ := cmd.Flags().GetStringSlice("mute")
	for _, name := range muted {
		if err := setMuted(stems, name, true); err != nil {
			return err
		}
	}

	buffer := cfg.Playback.Buffer
	if d, _ := cmd.Flags().GetDuration("buffer"); d > 0 {
		buffer = d
	}
	sink, err := playback.NewSpeakerSink(beep.SampleRate(playback.SampleRate), buffer)
	if err != nil {
		return err
	}
	defer sink.Close()
	sink.SetVolume(cfg.Playback.Volume, false)

	sched := playback.New(sink, playback.StoreOpener(cfg.Store.Dir),
		playback.WithWindow(cfg.Playback.Window),
		playback.WithLowWater(int64(cfg.Playback.LowWater)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
	}()

	p := &preview{commands: sched.Commands(), id: id, stems: stems}
	p.play()

	lines := make(chan string)
	go scanLines(cmd.InOrStdin(), lines)

	out := cmd.OutOrStdout()
	last := -1
	for {
		select {
		case err := <-done:
			return ignoreCanceled(err)

		case ev, ok := <-sched.Events():
			if !ok {
				return ignoreCanceled(<-done)
			}
			switch ev := ev.(type) {
			case playback.Progress:
				if pct := int(ev.Value * 100); pct != last {
					last = pct
					fmt.Fprintf(out, "\r%3d%%", pct)
				}
			case playback.Finished:
				p.active = false
				if ev.Err != nil {
					fmt.Fprintf(out, "\nplayback failed: %v\n", ev.Err)
				} else {
					fmt.Fprintln(out, "\nfinished")
				}
			}

		case line, ok := <-lines:
			if !ok {
				// stdin closed: play to the end
				lines = nil
				continue
			}
			quit, err := p.handleLine(line)
			if err != nil {
				fmt.Fprintln(out, err)
			}
			if quit {
				sched.Commands() <- playback.Exit{}
			}
		}
	}
}

func scanLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("Stopped reading commands", slog.Any("error", err))
	}
}

// preview holds the stem mix and whether the scheduler is playing it.
type preview struct {
	commands chan<- playback.Command
	id       uuid.UUID
	stems    []stemfile.Stem
	active   bool
}

func (p *preview) play() {
	p.commands <- playback.PlayFile{StoreID: p.id, Mask: stemfile.PreviewMask(p.stems)}
	p.active = true
}

func (p *preview) handleLine(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "quit", "exit", "q":
		return true, nil
	case "play":
		p.play()
	case "stop":
		p.commands <- playback.Stop{}
		p.active = false
	case "seek":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: seek <0..1>")
		}
		v, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return false, fmt.Errorf("invalid position %q", fields[1])
		}
		p.commands <- playback.Seek{Progress: float32(v)}
	case "mute", "unmute":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: %s <stem>", fields[0])
		}
		if err := setMuted(p.stems, fields[1], fields[0] == "mute"); err != nil {
			return false, err
		}
		// same store: the scheduler only swaps the mask. When stopped the
		// new mix is used by the next play.
		if p.active {
			p.play()
		}
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	return false, nil
}

// setMuted finds a stem by name or index.
func setMuted(stems []stemfile.Stem, name string, muted bool) error {
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(stems) {
		stems[i].Muted = muted
		return nil
	}
	for i := range stems {
		if strings.EqualFold(stems[i].Name, name) {
			stems[i].Muted = muted
			return nil
		}
	}
	return fmt.Errorf("unknown stem %q", name)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
