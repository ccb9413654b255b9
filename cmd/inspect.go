package cmd

import (
	"fmt"
	"time"

	"stemgen/stemfile"
	"stemgen/store"
	"stemgen/waveform"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// inspectCmd prints the layout of a store
var inspectCmd = &cobra.Command{
	Use:   "inspect STORE-ID",
	Short: "Show a store's length, records and stem previews",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid store id %q: %w", args[0], err)
		}

		s, err := store.OpenExisting(id, store.WithDir(cfg.Store.Dir))
		if err != nil {
			return err
		}
		defer s.Close()

		total, _ := s.TotalSamples()
		// force the record index
		if _, err := s.Seek(0); err != nil {
			return err
		}
		packets := 0
		if err := s.ForEach(func(rec store.Record) error {
			packets += len(rec.Packets)
			return nil
		}); err != nil {
			return err
		}

		width, _ := cmd.Flags().GetInt("width")
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Store %s\n", id)
		fmt.Fprintf(out, "  File:     %s\n", s.Path())
		fmt.Fprintf(out, "  Samples:  %d\n", total)
		fmt.Fprintf(out, "  Duration: %s\n", (time.Duration(total/2) * time.Second / 44100).Round(time.Millisecond))
		fmt.Fprintf(out, "  Records:  %d\n", len(s.Entries()))
		fmt.Fprintf(out, "  Packets:  %d\n", packets)

		names := append([]string{"Master"}, stemNames(cfg.Stems())...)
		for i, name := range names {
			peaks, err := waveform.FromStore(s, i, width)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %-8s %s\n", name, peaks.Sparkline(width))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().Int("width", 60, "preview width in characters")
}

func stemNames(stems []stemfile.Stem) []string {
	names := make([]string, len(stems))
	for i, s := range stems {
		names[i] = s.Name
	}
	return names
}
