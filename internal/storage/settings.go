package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
)

const upsertSetting = `
	INSERT INTO settings (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// GetSetting は設定値を返します。存在しない場合は ok=false です。
func (s *Storage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("get setting", err)
	}
	return value, true, nil
}

// ListSettings はすべての設定をマップで返します。
func (s *Storage) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, wrapErr("list settings", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, wrapErr("list settings", err)
		}
		values[key] = value
	}
	return values, wrapErr("list settings", rows.Err())
}

// SetSetting は設定値を作成または上書きします。
func (s *Storage) SetSetting(ctx context.Context, key, value string) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, upsertSetting, key, value, now, now)
	return wrapErr("set setting", err)
}

// SetSettings は複数の設定を1トランザクションで書き込みます。いずれかが失敗すると全体が失敗します。
func (s *Storage) SetSettings(ctx context.Context, values map[string]string) error {
	return s.writeSettings(ctx, "set settings", upsertSetting, values)
}

// SeedSettings は存在しないキーだけを書き込みます。既存の値は変更しません。
func (s *Storage) SeedSettings(ctx context.Context, defaults map[string]string) error {
	return s.writeSettings(ctx, "seed settings",
		`INSERT OR IGNORE INTO settings (key, value, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		defaults)
}

func (s *Storage) writeSettings(ctx context.Context, op, query string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		now := s.stamp()
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, query, k, values[k], now, now); err != nil {
				return err
			}
		}
		return nil
	})
}
