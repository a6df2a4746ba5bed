package history

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/media-forge/internal/storage"
)

// ErrNoArtifacts はエクスポートできる成果物がないことを示します。
var ErrNoArtifacts = errors.New("job has no exportable artifacts")

// albumExtensions は PDF アルバムに取り込める画像の拡張子です。
var albumExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// WriteArchive はジョブの成果物を順序番号順に zip にして w に書き込みます。
// 戻り値はダウンロード時のファイル名です。
func (s *Service) WriteArchive(ctx context.Context, jobID int64, w io.Writer) (string, error) {
	job, list, err := s.exportable(ctx, jobID)
	if err != nil {
		return "", err
	}
	paths := make([]string, len(list))
	for i, a := range list {
		paths[i] = a.Path
	}
	if err := writeZip(w, paths); err != nil {
		return "", err
	}
	return exportName(job, ".zip"), nil
}

// BuildAlbum は画像の成果物を1つの PDF にまとめて outPath に書き出します。
func (s *Service) BuildAlbum(ctx context.Context, jobID int64, outPath string) (string, error) {
	job, list, err := s.exportable(ctx, jobID)
	if err != nil {
		return "", err
	}
	var images []string
	for _, a := range list {
		if albumExtensions[strings.ToLower(filepath.Ext(a.Path))] {
			images = append(images, a.Path)
		}
	}
	if len(images) == 0 {
		return "", fmt.Errorf("job %d: %w", jobID, ErrNoArtifacts)
	}
	if err := os.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("PDFの出力先を準備できませんでした: %w", err)
	}
	// 1画像1ページで取り込む
	if err := pdfapi.ImportImagesFile(images, outPath, nil, nil); err != nil {
		return "", fmt.Errorf("PDFアルバムの作成に失敗しました: %w", err)
	}
	return exportName(job, ".pdf"), nil
}

func (s *Service) exportable(ctx context.Context, jobID int64) (*storage.Job, []*storage.Artifact, error) {
	job, err := s.job(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	list, err := s.store.ListArtifacts(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("list artifacts of job %d: %w", jobID, err)
	}
	if len(list) == 0 {
		return nil, nil, fmt.Errorf("job %d: %w", jobID, ErrNoArtifacts)
	}
	return job, list, nil
}

// writeZip は files を与えられた順に格納します。
func writeZip(w io.Writer, files []string) error {
	zipWriter := zip.NewWriter(w)

	for _, path := range files {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("zip入力ファイルのオープンに失敗しました: %w", err)
		}

		info, err := file.Stat()
		if err != nil {
			file.Close()
			return fmt.Errorf("zip入力ファイルの情報取得に失敗しました: %w", err)
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			file.Close()
			return fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
		}
		header.Name = filepath.Base(path)
		header.Method = zip.Deflate

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			file.Close()
			return fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
		}

		if _, err := io.Copy(writer, file); err != nil {
			file.Close()
			return fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
		}
		file.Close()
	}

	return zipWriter.Close()
}

func exportName(job *storage.Job, ext string) string {
	base := strings.TrimSuffix(job.OriginalName, filepath.Ext(job.OriginalName))
	if base == "" {
		base = "job"
	}
	return fmt.Sprintf("%s_%s_%d%s", base, job.Operation, job.ID, ext)
}
