package stemfile

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"stemgen/logger"
)

const (
	// Exec is the default path to the ffmpeg executable
	Exec = "ffmpeg"
	// DefaultCodec is the codec of packaged tracks.
	DefaultCodec = "aac"
	// DefaultBitrate is the bitrate of packaged tracks.
	DefaultBitrate = "256k"
)

// Packager combines exported files into one multi-track container with
// ffmpeg. Track 0 is the master, followed by the stems in order.
type Packager struct {
	Exec    string
	Codec   string
	Bitrate string
}

// NewPackager returns a packager with default settings.
func NewPackager() *Packager {
	return &Packager{Exec: Exec, Codec: DefaultCodec, Bitrate: DefaultBitrate}
}

// Available reports whether the ffmpeg executable can be found.
func (p *Packager) Available() bool {
	_, err := exec.LookPath(p.Exec)
	return err == nil
}

// Args returns the ffmpeg arguments packaging out into dest.
func (p *Packager) Args(out Output, stems []Stem, dest string) []string {
	files := out.Files()
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	for _, f := range files {
		args = append(args, "-i", f)
	}
	for i := range files {
		args = append(args, "-map", strconv.Itoa(i)+":a")
	}
	args = append(args,
		"-c:a", p.Codec,
		"-b:a", p.Bitrate,
		"-ar", "44100",
		"-ac", "2",
		"-metadata:s:a:0", "title=Master",
	)
	for i, s := range stems {
		args = append(args,
			"-metadata:s:a:"+strconv.Itoa(i+1), "title="+s.Name,
		)
		if i > 0 {
			args = append(args, "-disposition:a:"+strconv.Itoa(i+1), "0")
		}
	}
	return append(args, dest)
}

// Package runs ffmpeg and writes the container to dest.
func (p *Packager) Package(ctx context.Context, out Output, stems []Stem, dest string) error {
	log := logger.WithComponent("stemfile")

	cmd := exec.CommandContext(ctx, p.Exec, p.Args(out, stems, dest)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug("Running ffmpeg", slog.String("args", strings.Join(cmd.Args, " ")))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to package %s: %w: %s", dest, err, strings.TrimSpace(stderr.String()))
	}
	log.Info("Packaged stems", slog.String("file", dest))
	return nil
}

// Muxer packages exported files into a single container.
type Muxer interface {
	Package(ctx context.Context, out Output, stems []Stem, dest string) error
}

var _ Muxer = (*Packager)(nil)
