// Package history は記録済みジョブと成果物の参照を提供します（読み取り専用）。
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/media-forge/internal/artifacts"
	"github.com/yourusername/media-forge/internal/storage"
)

// ErrNotFound は指定されたジョブが存在しないことを示します。
var ErrNotFound = errors.New("job not found")

// Store は履歴の参照に使う永続化操作です。
type Store interface {
	ListJobs(ctx context.Context) ([]*storage.Job, error)
	GetJob(ctx context.Context, id int64) (*storage.Job, error)
	ListArtifacts(ctx context.Context, jobID int64) ([]*storage.Artifact, error)
}

// Item は一覧に表示するジョブ1件です。
type Item struct {
	ID             int64           `json:"id"`
	Filename       string          `json:"filename"`
	OriginalName   string          `json:"original_name"`
	FileSize       int64           `json:"file_size"`
	MimeType       string          `json:"mime_type,omitempty"`
	Operation      string          `json:"operation_type"`
	Status         storage.Status  `json:"status"`
	OutputPath     string          `json:"output_path,omitempty"`
	MetadataPath   string          `json:"metadata_path,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	FrameCount     int             `json:"frame_count"`
	AdditionalData json.RawMessage `json:"additional_data"`
}

// Detail はジョブ1件と解決済みの成果物一覧です。
type Detail struct {
	Item
	OutputURL string               `json:"output_url,omitempty"`
	BrowseURL string               `json:"browse_url,omitempty"`
	Frames    []artifacts.Location `json:"frames"`
}

// Service は Persistence Gateway と Artifact Resolver を組み合わせた参照サービスです。
type Service struct {
	store    Store
	resolver *artifacts.Resolver
}

// NewService は Service を作成します。
func NewService(store Store, resolver *artifacts.Resolver) *Service {
	return &Service{store: store, resolver: resolver}
}

// GetHistory は新しい順のジョブ一覧を返します。各件に成果物数が入ります。
func (s *Service) GetHistory(ctx context.Context) ([]Item, error) {
	list, err := s.store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	items := make([]Item, 0, len(list))
	for _, job := range list {
		items = append(items, toItem(job))
	}
	return items, nil
}

// GetJobDetail はジョブと成果物の参照先を返します。
func (s *Service) GetJobDetail(ctx context.Context, jobID int64) (*Detail, error) {
	job, err := s.job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListArtifacts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts of job %d: %w", jobID, err)
	}
	return &Detail{
		Item:      toItem(job),
		OutputURL: s.resolver.DirectoryURL(job.OutputPath),
		BrowseURL: s.resolver.BrowseURL(job.OutputPath),
		Frames:    s.resolver.ResolveAll(job.OutputPath, list),
	}, nil
}

// GetArtifacts は成果物を順序番号順に返します。
func (s *Service) GetArtifacts(ctx context.Context, jobID int64) ([]artifacts.Location, error) {
	job, err := s.job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListArtifacts(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts of job %d: %w", jobID, err)
	}
	return s.resolver.ResolveAll(job.OutputPath, list), nil
}

func (s *Service) job(ctx context.Context, jobID int64) (*storage.Job, error) {
	if jobID <= 0 {
		return nil, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", jobID, err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %d: %w", jobID, ErrNotFound)
	}
	return job, nil
}

func toItem(job *storage.Job) Item {
	return Item{
		ID:             job.ID,
		Filename:       job.Filename,
		OriginalName:   job.OriginalName,
		FileSize:       job.FileSize,
		MimeType:       job.MimeType,
		Operation:      job.Operation,
		Status:         job.Status,
		OutputPath:     job.OutputPath,
		MetadataPath:   job.MetadataPath,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
		ErrorMessage:   job.ErrorMessage,
		FrameCount:     job.ArtifactCount,
		AdditionalData: additionalData(job.Details),
	}
}

// additionalData は保存された構造化メタデータをそのまま返します。壊れている場合は空オブジェクトです。
func additionalData(raw string) json.RawMessage {
	if raw == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(raw)
}
