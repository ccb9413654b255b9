package track

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gopxl/beep/v2"
)

const (
	// BufferSize is the read buffer on the ffmpeg output pipe.
	BufferSize = 65307
	// frameBytes is one f32le stereo frame.
	frameBytes = 8
)

// FFmpegExtensions lists the extensions decoded through ffmpeg when it is enabled.
var FFmpegExtensions = []string{".m4a", ".aac", ".ogg", ".opus", ".aiff", ".aif", ".wma"}

// SupportedByFFmpeg reports whether path is decoded through ffmpeg when
// WithFFmpeg is given.
func SupportedByFFmpeg(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range FFmpegExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ffmpegDecoder reads src through an ffmpeg process that outputs
// interleaved f32le stereo at SampleRate.
type ffmpegDecoder struct {
	cmd    *exec.Cmd
	pipe   io.Closer
	reader *bufio.Reader
	stderr bytes.Buffer
	buf    []byte
	done   bool
	err    error
}

func decodeFFmpeg(execPath string, src io.Reader) (*ffmpegDecoder, beep.Format, error) {
	cmd := exec.Command(execPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-ac", "2",
		"-ar", strconv.Itoa(int(SampleRate)),
		"-f", "f32le",
		"pipe:1",
	)
	cmd.Stdin = src

	d := &ffmpegDecoder{cmd: cmd}
	cmd.Stderr = &d.stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, beep.Format{}, err
	}
	if err := cmd.Start(); err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	d.pipe = pipe
	d.reader = bufio.NewReaderSize(pipe, BufferSize)

	format := beep.Format{SampleRate: SampleRate, NumChannels: 2, Precision: 4}
	return d, format, nil
}

func (d *ffmpegDecoder) Stream(samples [][2]float64) (int, bool) {
	if d.done || d.err != nil {
		return 0, false
	}
	need := len(samples) * frameBytes
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	buf := d.buf[:need]

	n, err := io.ReadFull(d.reader, buf)
	frames := n / frameBytes
	for i := 0; i < frames; i++ {
		b := buf[i*frameBytes:]
		samples[i][0] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		samples[i][1] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4:])))
	}

	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.done = true
			if werr := d.cmd.Wait(); werr != nil {
				d.err = fmt.Errorf("ffmpeg: %w: %s", werr, strings.TrimSpace(d.stderr.String()))
			}
		} else {
			d.err = fmt.Errorf("error reading PCM data: %w", err)
		}
		return frames, frames > 0
	}
	return frames, true
}

func (d *ffmpegDecoder) Err() error {
	return d.err
}

func (d *ffmpegDecoder) Close() error {
	_ = d.pipe.Close()
	if d.done {
		return nil
	}
	d.done = true
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	return nil
}
