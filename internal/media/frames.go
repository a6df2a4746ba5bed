package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// FrameMode はフレーム抽出の方式です。
type FrameMode string

const (
	FrameModeCount     FrameMode = "count"
	FrameModePerSecond FrameMode = "per-second"
	FrameModeAll       FrameMode = "all"
)

// FrameParams はフレーム抽出のパラメータです。
// Timestamps は count / per-second で抽出する位置（秒）、Height は出力の高さ（0 なら元サイズ）。
type FrameParams struct {
	Mode       FrameMode
	Timestamps []float64
	Height     int
}

func (FrameParams) paramsKind() string { return "frames" }

// FrameFilename は ordinal 番目（1始まり）のフレームのファイル名です。
func FrameFilename(ordinal int) string {
	return fmt.Sprintf("frame_%06d.png", ordinal)
}

// FrameNumber は FrameFilename 形式のパスからフレーム番号を取り出します。
// 7桁以上の番号は名前順と番号順が一致しないため、並べ替えにはこちらを使います。
func FrameNumber(path string) (int, bool) {
	digits, ok := strings.CutPrefix(filepath.Base(path), "frame_")
	if !ok {
		return 0, false
	}
	digits, ok = strings.CutSuffix(digits, ".png")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (t *Toolkit) extractFrames(ctx context.Context, input string, p FrameParams, outDir string, progress ProgressReporter) error {
	switch p.Mode {
	case FrameModeAll:
		reportProgress(progress, "extract", 0)
		args := []string{"-y", "-v", "error", "-i", input, "-fps_mode", "passthrough"}
		args = append(args, scaleArgs(p.Height, "")...)
		args = append(args, filepath.Join(outDir, "frame_%06d.png"))
		_, err := t.runner.Run(ctx, t.ffmpeg, args...)
		return err

	case FrameModePerSecond:
		if len(p.Timestamps) == 0 {
			return nil
		}
		reportProgress(progress, "extract", 0)
		args := []string{"-y", "-v", "error", "-ss", "1", "-i", input}
		args = append(args, scaleArgs(p.Height, "fps=1")...)
		args = append(args, "-frames:v", strconv.Itoa(len(p.Timestamps)), filepath.Join(outDir, "frame_%06d.png"))
		_, err := t.runner.Run(ctx, t.ffmpeg, args...)
		return err

	default:
		for i, ts := range p.Timestamps {
			if err := ctx.Err(); err != nil {
				return err
			}
			args := []string{"-y", "-v", "error", "-ss", formatSeconds(ts), "-i", input, "-frames:v", "1"}
			args = append(args, scaleArgs(p.Height, "")...)
			args = append(args, filepath.Join(outDir, FrameFilename(i+1)))
			if _, err := t.runner.Run(ctx, t.ffmpeg, args...); err != nil {
				return err
			}
			reportProgress(progress, "extract", (i+1)*100/len(p.Timestamps))
		}
		return nil
	}
}

// scaleArgs は -vf の引数を組み立てます。アスペクト比を保ったまま高さだけ揃える。
func scaleArgs(height int, prefix string) []string {
	filter := prefix
	if height > 0 {
		scale := fmt.Sprintf("scale=-2:%d", height)
		if filter == "" {
			filter = scale
		} else {
			filter += "," + scale
		}
	}
	if filter == "" {
		return nil
	}
	return []string{"-vf", filter}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
