// Package storage は SQLite 上のジョブ・成果物・設定テーブルへのアクセスを提供します。
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrEmptyUpdate は更新対象のフィールドが1つも指定されていない場合に返されます。
	ErrEmptyUpdate = errors.New("storage: no fields to update")
	// ErrInvalidTransition は processing 以外への遷移や矛盾した更新を表します。
	ErrInvalidTransition = errors.New("storage: invalid status transition")
)

// Error はストアが読み書きを拒否したことを表します（制約違反・I/O エラーなど）。
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Storage は SQLite データベースへのゲートウェイです。キャッシュは持たず、常にストアの現状を返します。
type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// New は SQLite ファイルを開き（なければ作成し）マイグレーションを実行します。
func New(dbPath string) (*Storage, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// SQLite は書き込みを直列化するため接続は1本に絞る
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Storage{
		db:  db,
		now: time.Now,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) migrate() error {
	for i, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close はデータベース接続を閉じます。
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認します。
func (s *Storage) Ping(ctx context.Context) error {
	return wrapErr("ping", s.db.PingContext(ctx))
}

func (s *Storage) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrapErr(op, err)
	}
	return wrapErr(op, tx.Commit())
}

func (s *Storage) stamp() int64 {
	return s.now().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullString(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
