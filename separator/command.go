package separator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
)

// CommandModel runs an external inference program once per segment.
//
// The program receives the segment on stdin as little-endian float32, left
// channel then right channel, and must write the stems to stdout in the same
// encoding ordered stem, channel, sample. The segment length is passed in the
// STEMGEN_SEGMENT_LENGTH environment variable.
type CommandModel struct {
	Path       string
	Args       []string
	Length     int
	BufferSize int
	Env        []string
}

var _ Model = (*CommandModel)(nil)

// NewCommandModel returns a model running path with args for segments of
// length samples per channel.
func NewCommandModel(path string, length int, args ...string) *CommandModel {
	return &CommandModel{
		Path:       path,
		Args:       args,
		Length:     length,
		BufferSize: 1 << 16,
	}
}

func (m *CommandModel) SegmentLength() int {
	return m.Length
}

func (m *CommandModel) Infer(ctx context.Context, segment [2][]float32) ([StemCount][2][]float32, error) {
	var stems [StemCount][2][]float32
	for ch, s := range segment {
		if len(s) != m.Length {
			return stems, fmt.Errorf("%w: channel %d has %d samples, want %d", ErrModelInference, ch, len(s), m.Length)
		}
	}

	cmd := exec.CommandContext(ctx, m.Path, m.Args...)
	cmd.Env = append(cmd.Environ(), "STEMGEN_SEGMENT_LENGTH="+strconv.Itoa(m.Length))
	cmd.Env = append(cmd.Env, m.Env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return stems, fmt.Errorf("%w: %w", ErrModelInference, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return stems, fmt.Errorf("%w: %w", ErrModelInference, err)
	}
	if err := cmd.Start(); err != nil {
		return stems, fmt.Errorf("%w: starting %s: %w", ErrModelInference, m.Path, err)
	}

	writeErr := make(chan error, 1)
	go func() {
		w := bufio.NewWriterSize(stdin, m.BufferSize)
		err := writeFloats(w, segment[0])
		if err == nil {
			err = writeFloats(w, segment[1])
		}
		if err == nil {
			err = w.Flush()
		}
		stdin.Close()
		writeErr <- err
	}()

	r := bufio.NewReaderSize(stdout, m.BufferSize)
	var readErr error
	for s := range stems {
		for ch := range stems[s] {
			stems[s][ch], readErr = readFloats(r, m.Length)
			if readErr != nil {
				break
			}
		}
		if readErr != nil {
			break
		}
	}
	if readErr != nil {
		// Unblock the writer before waiting.
		io.Copy(io.Discard, r)
	}

	werr := <-writeErr
	if err := cmd.Wait(); err != nil {
		return stems, fmt.Errorf("%w: %s: %w: %s", ErrModelInference, m.Path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	if readErr != nil {
		return stems, fmt.Errorf("%w: reading stems: %w", ErrModelInference, readErr)
	}
	if werr != nil {
		return stems, fmt.Errorf("%w: writing segment: %w", ErrModelInference, werr)
	}
	return stems, nil
}

func writeFloats(w io.Writer, samples []float32) error {
	var buf [4]byte
	for _, v := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func readFloats(r io.Reader, n int) ([]float32, error) {
	buf := make([]byte, 4*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}
