// Package media は ffmpeg/ffprobe と画像処理ライブラリを使ったメディア処理を提供します。
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Params は Execute に渡す操作パラメータです。FrameParams / TrimParams / CubeMapParams のいずれかです。
type Params interface {
	paramsKind() string
}

// Output は処理で生成されたファイルの一覧です（ファイル名の辞書順）。
type Output struct {
	Files []string
}

// Options は Toolkit の構成です。
type Options struct {
	FFmpegPath  string
	FFprobePath string
	Runner      Runner
}

// Toolkit は外部処理ツールへの窓口です。
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	runner  Runner
}

// NewToolkit は Toolkit を作成します。
func NewToolkit(opts Options) *Toolkit {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}
	if opts.Runner == nil {
		opts.Runner = CommandRunner{}
	}
	return &Toolkit{
		ffmpeg:  opts.FFmpegPath,
		ffprobe: opts.FFprobePath,
		runner:  opts.Runner,
	}
}

// Probe は入力ファイルの長さ・フレームレート・ストリーム情報を取得します。
func (t *Toolkit) Probe(ctx context.Context, input string) (*ProbeResult, error) {
	out, err := t.runner.Run(ctx, t.ffprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	if err != nil {
		return nil, err
	}
	return ParseProbe(out)
}

// Execute は params に応じた処理を行い、outDir に生成されたファイルを返します。
func (t *Toolkit) Execute(ctx context.Context, input string, params Params, outDir string, progress ProgressReporter) (*Output, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, newToolError("media", "input file is not accessible", err)
	}

	var (
		pattern string
		err     error
	)
	switch p := params.(type) {
	case FrameParams:
		pattern = "frame_*.png"
		err = t.extractFrames(ctx, input, p, outDir, progress)
	case TrimParams:
		pattern = trimmedFilename
		err = t.trim(ctx, input, p, outDir, progress)
	case CubeMapParams:
		pattern = "*.png"
		err = splitCubeMap(ctx, input, p, outDir, progress)
	default:
		return nil, newToolError("media", fmt.Sprintf("unsupported parameters %T", params), nil)
	}
	if err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(outDir, pattern))
	if err != nil {
		return nil, newToolError("media", "failed to list output", err)
	}
	sort.Strings(files)
	reportProgress(progress, "completed", 100)
	return &Output{Files: files}, nil
}
