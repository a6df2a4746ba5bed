package jobs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// UploadStore はアップロードを一時ディレクトリに保存します。
type UploadStore struct {
	dir     string
	maxSize int64
}

// NewUploadStore は UploadStore を作成します。
func NewUploadStore(dir string, maxSize int64) *UploadStore {
	return &UploadStore{dir: dir, maxSize: maxSize}
}

// Save はファイルを <uuid><拡張子> として保存します。
// Content-Type が汎用的な場合は内容から判定します。
func (s *UploadStore) Save(ctx context.Context, file *multipart.FileHeader) (Upload, error) {
	if file == nil {
		return Upload{}, newError(CodeInvalidInput, "ファイルを選択してください。", nil)
	}
	if s.maxSize > 0 && file.Size > s.maxSize {
		return Upload{}, newError(CodeLimitExceeded, fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.maxSize), nil)
	}
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Upload{}, newError(CodeIOError, "アップロード先の作成に失敗しました。", err)
	}

	src, err := file.Open()
	if err != nil {
		return Upload{}, newError(CodeIOError, "アップロードファイルを開けませんでした。", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(file.Filename))
	stored := uuid.NewString() + ext
	path := filepath.Join(s.dir, stored)

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return Upload{}, newError(CodeIOError, "アップロードファイルの保存に失敗しました。", err)
	}
	size, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr == nil {
			copyErr = closeErr
		}
		return Upload{}, newError(CodeIOError, "アップロードファイルの保存に失敗しました。", copyErr)
	}

	mimeType := declaredType(file.Header.Get("Content-Type"))
	if mimeType == "" {
		if detected, err := mimetype.DetectFile(path); err == nil {
			mimeType = detected.String()
			if i := strings.IndexByte(mimeType, ';'); i >= 0 {
				mimeType = mimeType[:i]
			}
		}
	}

	return Upload{
		Path:         path,
		StoredName:   stored,
		OriginalName: filepath.Base(file.Filename),
		Size:         size,
		MimeType:     mimeType,
	}, nil
}

// Discard は保存済みのアップロードを削除します。
func (s *UploadStore) Discard(u Upload) {
	if u.Path != "" {
		_ = os.Remove(u.Path)
	}
}

func declaredType(header string) string {
	if header == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil || mediaType == "application/octet-stream" {
		return ""
	}
	return mediaType
}
