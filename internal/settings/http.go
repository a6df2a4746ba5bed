package settings

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers は設定とテーマのエンドポイントです。
type Handlers struct {
	service *Service
	logger  *log.Logger
}

// NewHandlers は Handlers を作成します。
func NewHandlers(service *Service, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// Register は /settings と /theme のルートを登録します。
func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.GET("/settings", h.List)
	rg.GET("/settings/:key", h.Get)
	rg.PUT("/settings", h.Update)
	rg.GET("/theme", h.Theme)
}

// List は GET /api/settings のハンドラーです。
func (h *Handlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Current().Values())
}

// Get は GET /api/settings/:key のハンドラーです。
func (h *Handlers) Get(c *gin.Context) {
	key := c.Param("key")
	value, ok := h.service.Current().Get(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "SETTING_NOT_FOUND",
			"message": "指定された設定は存在しません。",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value})
}

type updateRequest struct {
	Settings map[string]string `json:"settings"`
}

// Update は PUT /api/settings のハンドラーです。
func (h *Handlers) Update(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": `{"settings": {"key": "value"}} の形式で送ってください。`,
		})
		return
	}

	snap, err := h.service.Save(c.Request.Context(), req.Settings)
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}
		h.logger.Printf("failed to save settings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "STORAGE_ERROR",
			"message": "設定の保存に失敗しました。",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  "設定を保存しました。",
		"settings": snap.Values(),
	})
}

// Theme は GET /api/theme のハンドラーです。
func (h *Handlers) Theme(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Current().Theme())
}
