package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version information, set during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// audio libraries reported by "version --deps"
var reportedDeps = []string{
	"github.com/gopxl/beep/v2",
	"github.com/edsrzf/mmap-go",
	"google.golang.org/protobuf",
	"modernc.org/sqlite",
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version, git commit, and build date information for stemgen.",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "stemgen version %s\n", Version)
		fmt.Fprintf(out, "Git commit: %s\n", GitCommit)
		fmt.Fprintf(out, "Built: %s\n", BuildDate)
		fmt.Fprintf(out, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

		if deps, _ := cmd.Flags().GetBool("deps"); deps {
			info, ok := debug.ReadBuildInfo()
			if !ok {
				return
			}
			for _, m := range info.Deps {
				for _, name := range reportedDeps {
					if m.Path == name {
						fmt.Fprintf(out, "  %s %s\n", m.Path, m.Version)
					}
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("deps", false, "also print the versions of the audio and storage libraries")
}
