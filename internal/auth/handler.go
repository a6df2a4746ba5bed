package auth

import (
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// Register は /auth 配下のルートを登録します。認証が無効なら何も登録しません。
func (m *Manager) Register(rg *gin.RouterGroup) {
	if !m.Enabled() {
		return
	}
	rg.POST("/auth/login", m.Login)
	rg.POST("/auth/logout", m.Logout)
	rg.GET("/auth/session", m.Session)
}

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// Login はユーザー名とパスワードを検証してセッションを開始します。
// 成功時は 204 と X-CSRF-Token ヘッダーを返します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を指定してください",
		})
		return
	}

	ip := c.ClientIP()
	if wait := m.limiter.lockedFor(ip); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds()+0.5)))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "ログインの失敗が続いたため一時的にロックしています",
		})
		return
	}

	if !m.verify(req.Username, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": m.limiter.fail(ip),
		})
		return
	}
	m.limiter.reset(ip)

	token, err := newToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "CSRF トークンの生成に失敗しました"})
		return
	}

	now := m.now().Unix()
	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionKeyUser, m.creds.Username)
	session.Set(sessionKeyIssuedAt, now)
	session.Set(sessionKeyLastActive, now)
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "セッションの保存に失敗しました"})
		return
	}

	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout はセッションを破棄します。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "セッションの削除に失敗しました"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Session はログイン状態を返します。再読み込みしたクライアントが CSRF トークンを取り直すのに使います。
func (m *Manager) Session(c *gin.Context) {
	session := sessions.Default(c)
	user, d := m.authenticate(session)
	if d != nil {
		d.abort(c)
		return
	}
	token, _ := session.Get(sessionKeyCSRF).(string)
	c.Header(csrfHeader, token)
	c.JSON(http.StatusOK, gin.H{"user": user})
}
