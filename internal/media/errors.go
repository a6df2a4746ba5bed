package media

import (
	"fmt"
	"strings"
)

// ToolError は外部ツールが失敗した、または出力を解釈できなかったことを表します。
type ToolError struct {
	Tool    string
	Message string
	Stderr  string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func newToolError(tool, message string, err error) *ToolError {
	return &ToolError{Tool: tool, Message: message, Err: err}
}

// lastLine は stderr の最後の空でない行を返します。ffmpeg は末尾に原因を出力する。
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
