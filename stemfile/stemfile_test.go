package stemfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stemgen/store"

	"github.com/google/uuid"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

func TestColors(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{in: "#009E73", want: 0x009E73},
		{in: "56b4e9", want: 0x56B4E9},
		{in: "#12345", wantErr: true},
		{in: "#GGGGGG", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseColor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseColor() = %06X, want %06X", got, tt.want)
			}
		})
	}

	if got := DefaultStems()[1].Hex(); got != "#D55E00" {
		t.Errorf("Hex() = %q, want #D55E00", got)
	}
}

func TestPreviewMask(t *testing.T) {
	stems := DefaultStems()
	if got := PreviewMask(stems); got != 0x0f {
		t.Errorf("PreviewMask() = %04b, want 1111", got)
	}
	stems[0].Muted = true
	stems[2].Muted = true
	if got := PreviewMask(stems); got != 0b1010 {
		t.Errorf("PreviewMask() = %04b, want 1010", got)
	}
}

func TestManifest(t *testing.T) {
	var buf bytes.Buffer
	if err := NewManifest(DefaultStems()).Encode(&buf); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(buf.Bytes(), &raw); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if raw["version"] != float64(1) {
		t.Errorf("version = %v, want 1", raw["version"])
	}
	comp := raw["mastering_dsp"].(map[string]any)["compressor"].(map[string]any)
	if comp["ratio"] != float64(10) || comp["dry_wet"] != float64(100) || comp["enabled"] != false {
		t.Errorf("compressor = %v", comp)
	}
	first := raw["stems"].([]any)[0].(map[string]any)
	if first["name"] != "Drums" || first["color"] != "#009E73" {
		t.Errorf("first stem = %v", first)
	}

	m, err := DecodeManifest(&buf)
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	stems, err := StemsFromManifest(m)
	if err != nil {
		t.Fatalf("StemsFromManifest() error = %v", err)
	}
	if len(stems) != 4 || stems[3].Name != "Vocals" || stems[3].Color != 0x56B4E9 {
		t.Errorf("StemsFromManifest() = %+v", stems)
	}

	if _, err := DecodeManifest(strings.NewReader(`{"version": 2}`)); err == nil {
		t.Error("DecodeManifest() accepted version 2")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Café del Mar", want: "cafe_del_mar"},
		{in: "  AC/DC - Back in Black!", want: "acdc_back_in_black"},
		{in: "track_01.final", want: "track_01_final"},
		{in: "日本語", want: "track"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Slug(tt.in); got != tt.want {
				t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if got := BaseName("/music/Été 2024.flac"); got != "ete_2024" {
		t.Errorf("BaseName() = %q, want ete_2024", got)
	}
}

func sealedStore(t *testing.T, packets [][]byte) *store.Store {
	t.Helper()
	s, err := store.Create(uuid.New(), store.WithDir(t.TempDir()))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	streams := make([][]float32, store.StreamCount)
	for i := range streams {
		streams[i] = make([]float32, 2000)
		for j := range streams[i] {
			streams[i][j] = float32(i) * 0.1
		}
	}
	if err := s.Write(packets, streams); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Complete(); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	return s
}

func decodeWav(t *testing.T, path string) [][2]float64 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	s, format, err := wav.Decode(f)
	if err != nil {
		t.Fatalf("wav.Decode(%s) error = %v", path, err)
	}
	if format.SampleRate != 44100 || format.NumChannels != 2 {
		t.Errorf("%s format = %+v", path, format)
	}
	var out [][2]float64
	buf := make([][2]float64, 512)
	for {
		n, ok := s.Stream(buf)
		out = append(out, buf[:n]...)
		if !ok {
			return out
		}
	}
}

func TestExportConsistent(t *testing.T) {
	src := sealedStore(t, nil)
	dir := filepath.Join(t.TempDir(), "out")

	out, err := Export(src, Options{Dir: dir, Base: "song", Mode: Consistent})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if filepath.Base(out.Master) != "song.master.wav" || filepath.Base(out.Stems[3]) != "song.vocals.wav" {
		t.Errorf("Export() = %+v", out)
	}

	for i, path := range out.Files() {
		frames := decodeWav(t, path)
		if len(frames) != 1000 {
			t.Fatalf("%s has %d frames, want 1000", path, len(frames))
		}
		want := float64(i) * 0.1
		if math.Abs(frames[500][0]-want) > 1e-3 || math.Abs(frames[999][1]-want) > 1e-3 {
			t.Errorf("%s frame = %v, want %v", path, frames[500], want)
		}
	}
	if _, err := os.Stat(out.Manifest); err != nil {
		t.Errorf("manifest missing: %v", err)
	}

	if _, err := Export(src, Options{Dir: dir, Base: "song", Mode: Consistent}); !errors.Is(err, ErrExists) {
		t.Errorf("second Export() error = %v, want ErrExists", err)
	}
	if _, err := Export(src, Options{Dir: dir, Base: "song", Mode: Consistent, Overwrite: true}); err != nil {
		t.Errorf("Export() with Overwrite error = %v", err)
	}
}

func TestExportPreserve(t *testing.T) {
	original := []byte("ID3\x04fake-mp3-bytes")
	src := sealedStore(t, [][]byte{original[:4], original[4:]})
	dir := t.TempDir()

	out, err := Export(src, Options{Dir: dir, Base: "song", Mode: Preserve, SourceExt: ".mp3"})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	got, err := os.ReadFile(out.Master)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("master = %q, want %q", got, original)
	}
	if filepath.Base(out.Master) != "song.original.mp3" {
		t.Errorf("master path = %s", out.Master)
	}

	noPackets := sealedStore(t, nil)
	if _, err := Export(noPackets, Options{Dir: t.TempDir(), Base: "x", Mode: Preserve, SourceExt: ".mp3"}); err == nil {
		t.Error("Export() in preserve mode without packets succeeded")
	}
}

func TestPackagerArgs(t *testing.T) {
	out := Output{Master: "m.wav", Stems: []string{"d.wav", "b.wav", "o.wav", "v.wav"}}
	args := NewPackager().Args(out, DefaultStems(), "song.stem.m4a")

	joined := strings.Join(args, " ")
	for _, want := range []string{"-i m.wav", "-i v.wav", "-map 4:a", "-c:a aac", "-metadata:s:a:4 title=Vocals", "-disposition:a:2 0"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Args() = %q, missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "song.stem.m4a" {
		t.Errorf("last arg = %q", args[len(args)-1])
	}
}

var _ beep.Streamer = (*streamReader)(nil)
