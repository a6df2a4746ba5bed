package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// denial はリクエストを拒否するときの応答です。
type denial struct {
	status  int
	code    string
	message string
}

var (
	denyAnonymous    = &denial{http.StatusUnauthorized, "UNAUTHORIZED", "ログインが必要です"}
	denyExpired      = &denial{http.StatusUnauthorized, "SESSION_EXPIRED", "セッションの有効期限が切れました"}
	denyIdle         = &denial{http.StatusUnauthorized, "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください"}
	denyCSRFMissing  = &denial{http.StatusForbidden, "CSRF_MISSING", "CSRF トークンが設定されていません"}
	denyCSRFMismatch = &denial{http.StatusForbidden, "CSRF_INVALID", "CSRF トークンが一致しません"}
)

func (d *denial) abort(c *gin.Context) {
	c.AbortWithStatusJSON(d.status, gin.H{"code": d.code, "message": d.message})
}

// Guard はルーター全体に付けるミドルウェアを返します。
// public に挙げたパスとその配下は素通しし、それ以外はログイン済みセッションを要求します。
// GET などの安全なメソッド以外では X-CSRF-Token も検証します。認証が無効なら何もしません。
func (m *Manager) Guard(public ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() || isPublicPath(c.Request.URL.Path, public) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		user, d := m.authenticate(session)
		if d == nil && !isSafeMethod(c.Request.Method) {
			d = checkCSRF(session, c.GetHeader(csrfHeader))
		}
		if d != nil {
			d.abort(c)
			return
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// authenticate はセッションのユーザー名を返し、最終操作時刻を更新します。
// 期限切れのセッションは破棄します。
func (m *Manager) authenticate(session sessions.Session) (string, *denial) {
	user, _ := session.Get(sessionKeyUser).(string)
	if user == "" {
		return "", denyAnonymous
	}

	now := m.now()
	issued := readUnix(session.Get(sessionKeyIssuedAt))
	last := readUnix(session.Get(sessionKeyLastActive))

	var d *denial
	switch {
	case issued.IsZero() || now.Sub(issued) > maxSessionLifetime:
		d = denyExpired
	case last.IsZero() || now.Sub(last) > idleTimeout:
		d = denyIdle
	}
	if d != nil {
		session.Clear()
		_ = session.Save()
		return "", d
	}

	session.Set(sessionKeyLastActive, now.Unix())
	_ = session.Save()
	return user, nil
}

func checkCSRF(session sessions.Session, received string) *denial {
	expected, _ := session.Get(sessionKeyCSRF).(string)
	if expected == "" {
		return denyCSRFMissing
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return denyCSRFMismatch
	}
	return nil
}

// isPublicPath は path が public のいずれかと一致するか、その配下かを返します。"/" は完全一致のみです。
func isPublicPath(path string, public []string) bool {
	for _, p := range public {
		switch {
		case p == "":
		case path == p:
			return true
		case p != "/" && strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/"):
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
