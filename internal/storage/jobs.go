package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const jobColumns = `
	j.id, j.filename, j.original_name, j.file_size, j.mime_type, j.operation, j.status,
	j.input_path, j.output_path, j.metadata_path, j.details, j.error_message,
	j.created_at, j.completed_at,
	(SELECT COUNT(*) FROM artifacts a WHERE a.job_id = j.id) AS artifact_count`

// CreateJob は status=processing のジョブを作成し、その ID を返します。
func (s *Storage) CreateJob(ctx context.Context, job NewJob) (int64, error) {
	var details any
	if job.Details != "" {
		details = job.Details
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (filename, original_name, file_size, mime_type, operation, status, input_path, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Filename, job.OriginalName, job.FileSize, job.MimeType, job.Operation,
		StatusProcessing, job.InputPath, details, s.stamp(),
	)
	if err != nil {
		return 0, wrapErr("create job", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapErr("create job", err)
	}
	return id, nil
}

// UpdateJob は指定されたフィールドだけを更新し、影響行数を返します。
// 状態を変更する更新は processing の行にだけ適用されるため、終端状態のジョブや
// 存在しないジョブに対しては 0 を返します（エラーではありません）。
func (s *Storage) UpdateJob(ctx context.Context, id int64, update JobUpdate) (int64, error) {
	if update.empty() {
		return 0, ErrEmptyUpdate
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	switch update.Status {
	case "":
	case StatusCompleted:
		if update.ErrorMessage != nil {
			return 0, fmt.Errorf("%w: completed job cannot carry an error", ErrInvalidTransition)
		}
		set("status", StatusCompleted)
		set("completed_at", s.stamp())
		sets = append(sets, "error_message = NULL")
	case StatusFailed:
		if update.ErrorMessage == nil || strings.TrimSpace(*update.ErrorMessage) == "" {
			return 0, fmt.Errorf("%w: failed job requires an error message", ErrInvalidTransition)
		}
		set("status", StatusFailed)
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTransition, update.Status)
	}

	if update.OutputPath != nil {
		set("output_path", *update.OutputPath)
	}
	if update.MetadataPath != nil {
		set("metadata_path", *update.MetadataPath)
	}
	if update.Details != nil {
		set("details", *update.Details)
	}
	if update.ErrorMessage != nil {
		set("error_message", *update.ErrorMessage)
	}

	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if update.Status != "" {
		query += " AND status = ?"
		args = append(args, StatusProcessing)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("update job", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("update job", err)
	}
	return affected, nil
}

// GetJob はジョブを1件取得します。存在しない場合は nil, nil を返します。
func (s *Storage) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs j WHERE j.id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return job, nil
}

// ListJobs は作成日時の新しい順にジョブを返します。
func (s *Storage) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs j ORDER BY j.created_at DESC, j.id DESC`)
	if err != nil {
		return nil, wrapErr("list jobs", err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, wrapErr("list jobs", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, wrapErr("list jobs", rows.Err())
}

// CountByStatus は状態ごとのジョブ件数を返します。
func (s *Storage) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, wrapErr("count jobs", err)
	}
	defer rows.Close()

	counts := map[Status]int64{
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for rows.Next() {
		var (
			status Status
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapErr("count jobs", err)
		}
		counts[status] = n
	}
	return counts, wrapErr("count jobs", rows.Err())
}

// StaleJob は FailStaleJobs が閉じたジョブです。
type StaleJob struct {
	ID        int64
	InputPath string
}

// FailStaleJobs は processing のまま残ったジョブを失敗として閉じ、閉じたジョブを返します。
// 前回のプロセスが処理途中で落ちた場合の後始末として起動時に呼びます。入力ファイルの削除は呼び出し側の責任です。
func (s *Storage) FailStaleJobs(ctx context.Context, reason string) ([]StaleJob, error) {
	var stale []StaleJob
	err := s.withTx(ctx, "fail stale jobs", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, input_path FROM jobs WHERE status = ? ORDER BY id`, StatusProcessing)
		if err != nil {
			return err
		}
		for rows.Next() {
			var job StaleJob
			if err := rows.Scan(&job.ID, &job.InputPath); err != nil {
				_ = rows.Close()
				return err
			}
			stale = append(stale, job)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error_message = ? WHERE status = ?`,
			StatusFailed, reason, StatusProcessing,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                                         Job
		outputPath, metadataPath, details, errorMsg sql.NullString
		createdAt                                   int64
		completedAt                                 sql.NullInt64
	)
	err := row.Scan(
		&job.ID, &job.Filename, &job.OriginalName, &job.FileSize, &job.MimeType, &job.Operation, &job.Status,
		&job.InputPath, &outputPath, &metadataPath, &details, &errorMsg,
		&createdAt, &completedAt, &job.ArtifactCount,
	)
	if err != nil {
		return nil, err
	}
	job.OutputPath = nullString(outputPath)
	job.MetadataPath = nullString(metadataPath)
	job.Details = nullString(details)
	job.ErrorMessage = nullString(errorMsg)
	job.CreatedAt = fromMillis(createdAt)
	if completedAt.Valid {
		t := fromMillis(completedAt.Int64)
		job.CompletedAt = &t
	}
	return &job, nil
}
