package storage

import (
	"context"
	"database/sql"
)

// AddArtifact は成果物を1件登録し、その ID を返します。
func (s *Storage) AddArtifact(ctx context.Context, jobID int64, path string, ordinal int, timestamp float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (job_id, path, ordinal, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		jobID, path, ordinal, timestamp, s.stamp(),
	)
	if err != nil {
		return 0, wrapErr("add artifact", err)
	}
	id, err := res.LastInsertId()
	return id, wrapErr("add artifact", err)
}

// AddArtifacts はジョブの成果物をまとめて登録します。途中で失敗した場合は1件も残りません。
func (s *Storage) AddArtifacts(ctx context.Context, jobID int64, items []NewArtifact) error {
	if len(items) == 0 {
		return nil
	}
	return s.withTx(ctx, "add artifacts", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO artifacts (job_id, path, ordinal, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := s.stamp()
		for _, item := range items {
			if _, err := stmt.ExecContext(ctx, jobID, item.Path, item.Ordinal, item.Timestamp, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListArtifacts はジョブの成果物を ordinal の昇順で返します。
func (s *Storage) ListArtifacts(ctx context.Context, jobID int64) ([]*Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, path, ordinal, COALESCE(timestamp, 0), created_at
		FROM artifacts WHERE job_id = ? ORDER BY ordinal ASC`, jobID)
	if err != nil {
		return nil, wrapErr("list artifacts", err)
	}
	defer rows.Close()

	artifacts := []*Artifact{}
	for rows.Next() {
		var (
			a         Artifact
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.JobID, &a.Path, &a.Ordinal, &a.Timestamp, &createdAt); err != nil {
			return nil, wrapErr("list artifacts", err)
		}
		a.CreatedAt = fromMillis(createdAt)
		artifacts = append(artifacts, &a)
	}
	return artifacts, wrapErr("list artifacts", rows.Err())
}
