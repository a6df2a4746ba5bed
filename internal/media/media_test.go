package media

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const sampleProbe = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001", "duration": "30.030000", "nb_frames": "900"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "30.000000", "bit_rate": "5000000"}
}`

func TestParseProbe(t *testing.T) {
	result, err := ParseProbe([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("ParseProbe returned error: %v", err)
	}
	if result.Duration != 30 {
		t.Fatalf("Duration = %v, want 30", result.Duration)
	}
	if result.FrameRate < 29.96 || result.FrameRate > 29.98 {
		t.Fatalf("FrameRate = %v", result.FrameRate)
	}
	if result.TotalFrames != 900 {
		t.Fatalf("TotalFrames = %d, want 900", result.TotalFrames)
	}
	if result.VideoCodec != "h264" || result.AudioCodec != "aac" || result.Width != 1920 {
		t.Fatalf("unexpected stream info: %+v", result)
	}
	if len(result.Raw) == 0 {
		t.Fatal("Raw should keep the probe output")
	}
}

func TestParseProbeDerivesFrameCount(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","codec_name":"vp9","r_frame_rate":"25/1"}],"format":{"duration":"2.5"}}`
	result, err := ParseProbe([]byte(data))
	if err != nil {
		t.Fatalf("ParseProbe returned error: %v", err)
	}
	if result.TotalFrames != 62 {
		t.Fatalf("TotalFrames = %d, want 62", result.TotalFrames)
	}
}

func TestParseProbeRejectsGarbage(t *testing.T) {
	for _, data := range []string{"not json", `{"streams":[],"format":{}}`} {
		_, err := ParseProbe([]byte(data))
		var toolErr *ToolError
		if !errors.As(err, &toolErr) {
			t.Fatalf("ParseProbe(%q) error = %v, want ToolError", data, err)
		}
	}
}

// recordingRunner は呼び出し引数を記録し、最後の引数（出力パス）に空ファイルを作ります。
type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	out := args[len(args)-1]
	if !strings.Contains(out, "%") {
		if err := os.WriteFile(out, []byte("x"), 0o644); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "input.mp4")
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("failed to write input: %v", err)
	}
	return path
}

func TestExecuteCountFrames(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)
	outDir := filepath.Join(dir, "frames_1")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	runner := &recordingRunner{}
	tk := NewToolkit(Options{FFmpegPath: "ffmpeg", Runner: runner})
	var stages []int
	out, err := tk.Execute(context.Background(), input, FrameParams{
		Mode:       FrameModeCount,
		Timestamps: []float64{5, 10, 15},
		Height:     720,
	}, outDir, func(stage string, percent int) { stages = append(stages, percent) })
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(out.Files) != 3 {
		t.Fatalf("len(Files) = %d, want 3", len(out.Files))
	}
	if filepath.Base(out.Files[0]) != "frame_000001.png" || filepath.Base(out.Files[2]) != "frame_000003.png" {
		t.Fatalf("unexpected files: %v", out.Files)
	}
	if len(runner.calls) != 3 {
		t.Fatalf("ffmpeg called %d times, want 3", len(runner.calls))
	}
	joined := strings.Join(runner.calls[1], " ")
	if !strings.Contains(joined, "-ss 10.000") || !strings.Contains(joined, "scale=-2:720") {
		t.Fatalf("unexpected args: %s", joined)
	}
	if stages[len(stages)-1] != 100 {
		t.Fatalf("last progress = %d, want 100", stages[len(stages)-1])
	}
}

func TestExecuteTrimArgs(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)
	runner := &recordingRunner{}
	tk := NewToolkit(Options{Runner: runner})

	out, err := tk.Execute(context.Background(), input, TrimParams{Start: 2, End: 7.5, PreserveMetadata: true}, dir, nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(out.Files) != 1 || filepath.Base(out.Files[0]) != "trimmed.mp4" {
		t.Fatalf("unexpected files: %v", out.Files)
	}
	joined := strings.Join(runner.calls[0], " ")
	for _, want := range []string{"-ss 2.000", "-t 5.500", "-c:v libx264", "-c:a aac", "-map_metadata 0"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args %q missing %q", joined, want)
		}
	}
}

func TestExecuteToolFailure(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir)
	runner := &recordingRunner{fail: &ToolError{Tool: "ffmpeg", Message: "Invalid data found when processing input"}}
	tk := NewToolkit(Options{Runner: runner})

	_, err := tk.Execute(context.Background(), input, TrimParams{Start: 0, End: 1}, dir, nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Message != "Invalid data found when processing input" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExecuteMissingInput(t *testing.T) {
	tk := NewToolkit(Options{Runner: &recordingRunner{}})
	_, err := tk.Execute(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), TrimParams{End: 1}, t.TempDir(), nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: 128, B: 64, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteCubeMap(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "pano.png")
	writeTestPNG(t, input, 96, 48)

	outDir := filepath.Join(dir, "cubemap_1")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	tk := NewToolkit(Options{Runner: &recordingRunner{}})
	out, err := tk.Execute(context.Background(), input, CubeMapParams{BaseName: "pano"}, outDir, nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	var faces []string
	for _, f := range out.Files {
		faces = append(faces, filepath.Base(f))
	}
	want := []string{"pano_1_front.png", "pano_2_back.png", "pano_3_left.png", "pano_4_right.png", "pano_5_top.png", "pano_6_bottom.png"}
	if strings.Join(faces, ",") != strings.Join(want, ",") {
		t.Fatalf("faces = %v, want %v", faces, want)
	}

	info, err := tk.InspectImage(context.Background(), filepath.Join(outDir, want[0]))
	if err != nil {
		t.Fatalf("InspectImage returned error: %v", err)
	}
	if info.Width != 12 || info.Height != 12 || info.Format != "png" {
		t.Fatalf("unexpected face info: %+v", info)
	}
}

func TestCubeMapScalesFaces(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "pano.png")
	writeTestPNG(t, input, 64, 32)
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	tk := NewToolkit(Options{Runner: &recordingRunner{}})
	out, err := tk.Execute(context.Background(), input, CubeMapParams{FaceSize: 32}, outDir, nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(out.Files) != 6 {
		t.Fatalf("len(Files) = %d, want 6", len(out.Files))
	}
	info, err := tk.InspectImage(context.Background(), out.Files[5])
	if err != nil {
		t.Fatalf("InspectImage returned error: %v", err)
	}
	if info.Width != 32 || info.Height != 32 {
		t.Fatalf("unexpected size: %+v", info)
	}
	if filepath.Base(out.Files[0]) != "pano_1_front.png" {
		t.Fatalf("unexpected first face: %s", out.Files[0])
	}
}

func TestCubeMapRejectsTinyImage(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "tiny.png")
	writeTestPNG(t, input, 3, 3)

	tk := NewToolkit(Options{Runner: &recordingRunner{}})
	_, err := tk.Execute(context.Background(), input, CubeMapParams{}, dir, nil)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
}

func TestFrameNumber(t *testing.T) {
	tests := []struct {
		path string
		want int
		ok   bool
	}{
		{path: "/out/frames_1/frame_000001.png", want: 1, ok: true},
		{path: FrameFilename(999999), want: 999999, ok: true},
		{path: FrameFilename(1000000), want: 1000000, ok: true},
		{path: "frame_abc.png"},
		{path: "frame_000000.png"},
		{path: "thumb_000001.png"},
		{path: "frame_000001.jpg"},
	}
	for _, tt := range tests {
		got, ok := FrameNumber(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FrameNumber(%q) = %d, %t, want %d, %t", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}
