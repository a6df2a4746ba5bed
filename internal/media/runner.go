package media

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
)

// Runner は外部コマンドを実行し、標準出力を返します。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandRunner は os/exec で実際にプロセスを起動する Runner です。
type CommandRunner struct{}

// Run はコマンドを実行します。失敗時は stderr を含む ToolError を返します。
func (CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		message := lastLine(stderr.String())
		if message == "" {
			message = "command failed"
		}
		return nil, &ToolError{
			Tool:    filepath.Base(name),
			Message: message,
			Stderr:  stderr.String(),
			Err:     err,
		}
	}
	return stdout.Bytes(), nil
}
