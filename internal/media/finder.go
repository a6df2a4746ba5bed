package media

import (
	"context"
	"os/exec"
	"strings"
)

// ToolStatus は外部ツールの検出結果です。
type ToolStatus struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Found   bool   `json:"found"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CheckTools は ffmpeg / ffprobe が実行可能かを確認します。
func (t *Toolkit) CheckTools(ctx context.Context) []ToolStatus {
	return []ToolStatus{
		t.checkTool(ctx, "ffmpeg", t.ffmpeg),
		t.checkTool(ctx, "ffprobe", t.ffprobe),
	}
}

func (t *Toolkit) checkTool(ctx context.Context, name, configured string) ToolStatus {
	status := ToolStatus{Name: name, Path: configured}
	resolved, err := exec.LookPath(configured)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Path = resolved

	out, err := t.runner.Run(ctx, resolved, "-version")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Found = true
	status.Version = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	return status
}
