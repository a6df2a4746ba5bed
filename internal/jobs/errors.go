package jobs

import "fmt"

// エラーコード
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeLimitExceeded = "LIMIT_EXCEEDED"
	CodeToolError     = "TOOL_ERROR"
	CodeIOError       = "IO_ERROR"
	CodeStorageError  = "STORAGE_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeInternal      = "INTERNAL_ERROR"
)

// Error はマネージャーの境界を越える唯一のエラー型です。
type Error struct {
	Code    string
	Message string
	// JobID は記録済みジョブに紐づく失敗の場合に設定されます。
	JobID int64
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
