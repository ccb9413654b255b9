package track

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// fakeFFmpeg writes a script that swallows stdin and prints the f32le file
// named by STEMGEN_FAKE_PCM, failing when it is unset.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake needs a unix shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
cat > /dev/null
if [ -z "$STEMGEN_FAKE_PCM" ]; then
	echo "Invalid data found when processing input" >&2
	exit 1
fi
cat "$STEMGEN_FAKE_PCM"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFmpegDecode(t *testing.T) {
	exe := fakeFFmpeg(t)
	dir := t.TempDir()

	const frames = 3000
	var pcm bytes.Buffer
	for i := 0; i < frames; i++ {
		v := float32(i) / frames
		binary.Write(&pcm, binary.LittleEndian, [2]float32{v, -v})
	}
	pcmPath := filepath.Join(dir, "pcm.raw")
	if err := os.WriteFile(pcmPath, pcm.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STEMGEN_FAKE_PCM", pcmPath)

	src := filepath.Join(dir, "song.m4a")
	original := bytes.Repeat([]byte("ftypM4A "), 5000)
	if err := os.WriteFile(src, original, 0o644); err != nil {
		t.Fatal(err)
	}

	tr, err := Open(src, WithFFmpeg(exe), WithPackets(true))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close()

	out, packets := readAll(t, tr, 1000)
	if len(out) != 2*frames {
		t.Fatalf("decoded %d samples, want %d", len(out), 2*frames)
	}
	for _, i := range []int{0, 1234, frames - 1} {
		want := float32(i) / frames
		if math.Abs(float64(out[2*i]-want)) > 1e-6 || math.Abs(float64(out[2*i+1]+want)) > 1e-6 {
			t.Errorf("frame %d = %v/%v, want %v", i, out[2*i], out[2*i+1], want)
		}
	}
	if got := bytes.Join(packets, nil); !bytes.Equal(got, original) {
		t.Errorf("packets hold %d bytes, file has %d", len(got), len(original))
	}
}

func TestFFmpegFailure(t *testing.T) {
	exe := fakeFFmpeg(t)
	t.Setenv("STEMGEN_FAKE_PCM", "")

	src := filepath.Join(t.TempDir(), "broken.ogg")
	if err := os.WriteFile(src, []byte("OggS"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr, err := Open(src, WithFFmpeg(exe))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close()

	_, _, err = tr.Next(make([]float32, 256))
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want ffmpeg failure", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte("Invalid data")) {
		t.Errorf("Next() error = %v, want ffmpeg stderr", err)
	}
}

func TestFFmpegDisabled(t *testing.T) {
	src := filepath.Join(t.TempDir(), "song.opus")
	if err := os.WriteFile(src, []byte("OggS"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(src); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Open() error = %v, want ErrUnsupportedFormat", err)
	}
	if !SupportedByFFmpeg(src) || SupportedByFFmpeg("a.mp3") {
		t.Error("SupportedByFFmpeg() mismatch")
	}
}
