// Package auth は任意で有効にできるログインとセッション保護を提供します。
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	SessionCookieName = "mf_session"

	// ContextUserKey はガードを通過したリクエストのユーザー名を gin.Context に置くキーです。
	ContextUserKey = "auth.user"

	sessionKeyUser       = "auth_user"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"
)

var (
	maxSessionLifetime = 12 * time.Hour
	idleTimeout        = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

// Credentials はログインに使う資格情報です。Username が空なら認証は無効です。
type Credentials struct {
	Username     string
	PasswordHash string
}

// Manager は資格情報とログイン試行の状態を持ちます。nil の Manager は認証無効として振る舞います。
type Manager struct {
	creds   Credentials
	now     func() time.Time
	limiter *loginLimiter
}

// NewManager は認証マネージャーを作成します。
func NewManager(creds Credentials) *Manager {
	m := &Manager{creds: creds, now: time.Now}
	m.limiter = newLoginLimiter(func() time.Time { return m.now() })
	return m
}

// Enabled はログインが必要かどうかを返します。
func (m *Manager) Enabled() bool {
	return m != nil && m.creds.Username != ""
}

// HashPassword は APP_PASSWORD_HASH に設定する bcrypt ハッシュを作ります。
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (m *Manager) verify(username, password string) bool {
	if m.creds.PasswordHash == "" || username != m.creds.Username {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(m.creds.PasswordHash), []byte(password)) == nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// readUnix はセッションに保存した Unix 秒を読みます。クッキーの復元方法によって型が変わります。
func readUnix(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
