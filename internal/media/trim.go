package media

import (
	"context"
	"path/filepath"
)

const trimmedFilename = "trimmed.mp4"

// TrimParams は切り出し区間です（秒）。
type TrimParams struct {
	Start            float64
	End              float64
	PreserveMetadata bool
}

func (TrimParams) paramsKind() string { return "trim" }

func (t *Toolkit) trim(ctx context.Context, input string, p TrimParams, outDir string, progress ProgressReporter) error {
	if p.Start < 0 || p.End <= p.Start {
		return newToolError("ffmpeg", "invalid trim range", nil)
	}
	reportProgress(progress, "encode", 0)

	metadata := "-1"
	if p.PreserveMetadata {
		metadata = "0"
	}
	_, err := t.runner.Run(ctx, t.ffmpeg,
		"-y", "-v", "error",
		"-ss", formatSeconds(p.Start),
		"-i", input,
		"-t", formatSeconds(p.End-p.Start),
		"-c:v", "libx264",
		"-c:a", "aac",
		"-map_metadata", metadata,
		filepath.Join(outDir, trimmedFilename),
	)
	return err
}
