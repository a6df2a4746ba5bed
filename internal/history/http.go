package history

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/jobs"
)

// ProgressReader は進捗ストアの読み取り操作です。
type ProgressReader interface {
	Get(ctx context.Context, jobID int64) (*jobs.Progress, error)
}

// Handlers は履歴・閲覧系エンドポイントです。
type Handlers struct {
	service  *Service
	browser  *Browser
	progress ProgressReader
	logger   *log.Logger
}

// NewHandlers は Handlers を作成します。progress が nil の場合、進捗 API は常に 404 を返します。
func NewHandlers(service *Service, browser *Browser, progress ProgressReader, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{service: service, browser: browser, progress: progress, logger: logger}
}

// Register は /history と /browse 配下のルートを登録します。
func (h *Handlers) Register(rg *gin.RouterGroup) {
	hist := rg.Group("/history")
	{
		hist.GET("", h.List)
		hist.GET("/:id", h.Detail)
		hist.GET("/:id/frames", h.Frames)
		hist.GET("/:id/archive", h.Archive)
		hist.GET("/:id/album", h.Album)
		hist.GET("/:id/progress", h.Progress)
	}
	rg.GET("/browse/*directory", h.Browse)
}

// List は GET /api/history のハンドラーです。
func (h *Handlers) List(c *gin.Context) {
	items, err := h.service.GetHistory(c.Request.Context())
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// Detail は GET /api/history/:id のハンドラーです。
func (h *Handlers) Detail(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	detail, err := h.service.GetJobDetail(c.Request.Context(), id)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Frames は GET /api/history/:id/frames のハンドラーです。
func (h *Handlers) Frames(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	locations, err := h.service.GetArtifacts(c.Request.Context(), id)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, locations)
}

// Archive は GET /api/history/:id/archive のハンドラーです。
func (h *Handlers) Archive(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	tmp, err := os.CreateTemp("", "media-archive-*.zip")
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	defer os.Remove(tmp.Name())

	name, err := h.service.WriteArchive(c.Request.Context(), id, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.FileAttachment(tmp.Name(), name)
}

// Album は GET /api/history/:id/album のハンドラーです。
func (h *Handlers) Album(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	dir, err := os.MkdirTemp("", "media-album-")
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	defer os.RemoveAll(dir)

	outPath := filepath.Join(dir, "album.pdf")
	name, err := h.service.BuildAlbum(c.Request.Context(), id, outPath)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.FileAttachment(outPath, name)
}

// Progress は GET /api/history/:id/progress のハンドラーです。
func (h *Handlers) Progress(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if h.progress == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "PROGRESS_UNAVAILABLE",
			"message": "進捗の記録は無効になっています。",
		})
		return
	}
	p, err := h.progress.Get(c.Request.Context(), id)
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "PROGRESS_NOT_FOUND",
			"message": "このジョブの進捗は記録されていません。",
		})
		return
	}
	c.JSON(http.StatusOK, p)
}

// Browse は GET /api/browse/*directory のハンドラーです。
func (h *Handlers) Browse(c *gin.Context) {
	listing, err := h.browser.List(c.Param("directory"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "ジョブIDが不正です。",
		})
		return 0, false
	}
	return id, true
}

func (h *Handlers) respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{
			"code":    "ACCESS_DENIED",
			"message": "出力ディレクトリの外は参照できません。",
		})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定された項目は存在しません。",
		})
	case errors.Is(err, ErrNoArtifacts):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "エクスポートできる成果物がありません。",
		})
	default:
		h.logger.Printf("history request failed: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
