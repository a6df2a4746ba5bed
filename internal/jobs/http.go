package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/media-forge/internal/artifacts"
	"github.com/yourusername/media-forge/internal/media"
)

// Submitter はハンドラーが使うジョブ投入の操作です。
type Submitter interface {
	Submit(ctx context.Context, req *Request) (*Summary, error)
	SaveMetadata(ctx context.Context, jobID int64, filename string, metadata json.RawMessage) (*SavedMetadata, error)
}

// Handlers はアップロード系エンドポイントです。
type Handlers struct {
	jobs     Submitter
	uploads  *UploadStore
	resolver *artifacts.Resolver
}

// NewHandlers は Handlers を作成します。
func NewHandlers(jobs Submitter, uploads *UploadStore, resolver *artifacts.Resolver) *Handlers {
	return &Handlers{jobs: jobs, uploads: uploads, resolver: resolver}
}

// Register は /video と /360image 配下のルートを登録します。
func (h *Handlers) Register(rg *gin.RouterGroup) {
	video := rg.Group("/video")
	{
		video.POST("/metadata", h.Metadata)
		video.POST("/save-metadata", h.SaveMetadata)
		video.POST("/extract-frames", h.ExtractFrames)
		video.POST("/trim", h.Trim)
	}
	images := rg.Group("/360image")
	{
		images.POST("/process", h.ProcessImage)
		images.POST("/cube-map", h.CubeMap)
	}
}

// Metadata は POST /api/video/metadata のハンドラーです。
func (h *Handlers) Metadata(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		badRequest(c, "動画ファイルを選択してください。")
		return
	}
	async, err := formBool(c, "async")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, ok := h.submit(c, file, OperationMetadata, Parameters{}, async)
	if !ok {
		return
	}
	if summary.Queued {
		respondQueued(c, summary)
		return
	}

	payload := gin.H{
		"id":       summary.JobID,
		"filename": file.Filename,
		"message":  "メタデータを抽出しました。",
		"details":  summary.Details,
	}
	if summary.Probe != nil {
		payload["metadata"] = summary.Probe.Raw
		payload["duration"] = summary.Probe.Duration
		payload["frameRate"] = summary.Probe.FrameRate
		payload["totalFrames"] = summary.Probe.TotalFrames
	}
	c.JSON(http.StatusOK, payload)
}

type saveMetadataRequest struct {
	ID       int64           `json:"id"`
	Filename string          `json:"filename"`
	Metadata json.RawMessage `json:"metadata"`
}

// SaveMetadata は POST /api/video/save-metadata のハンドラーです。
func (h *Handlers) SaveMetadata(c *gin.Context) {
	var req saveMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "filename と metadata を JSON で送ってください。")
		return
	}

	saved, err := h.jobs.SaveMetadata(c.Request.Context(), req.ID, req.Filename, req.Metadata)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           saved.JobID,
		"message":      "メタデータを保存しました。",
		"jsonFilename": saved.Filename,
		"url":          saved.URL,
	})
}

// ExtractFrames は POST /api/video/extract-frames のハンドラーです。
func (h *Handlers) ExtractFrames(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		badRequest(c, "動画ファイルを選択してください。")
		return
	}

	params, async, err := parseFrameParams(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, ok := h.submit(c, file, OperationFrames, params, async)
	if !ok {
		return
	}
	if summary.Queued {
		respondQueued(c, summary)
		return
	}

	urls := make([]string, len(summary.Artifacts))
	for i, loc := range summary.Artifacts {
		urls[i] = loc.URL
	}
	dirName := filepath.Base(summary.OutputDir)
	payload := gin.H{
		"id":               summary.JobID,
		"message":          fmt.Sprintf("%d枚のフレームを抽出しました。", summary.ArtifactCount),
		"outputDir":        dirName,
		"framesDirectory":  dirName,
		"frameCount":       summary.ArtifactCount,
		"preserveMetadata": params.PreserveMetadata,
		"frameUrls":        urls,
		"frames":           summary.Artifacts,
		"browseUrl":        h.resolver.BrowseURL(summary.OutputDir),
	}
	if d, ok := summary.Details.(*FrameDetails); ok {
		payload["mode"] = d.Mode
		payload["duration"] = d.Duration
	}
	c.JSON(http.StatusOK, payload)
}

// Trim は POST /api/video/trim のハンドラーです。
func (h *Handlers) Trim(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		badRequest(c, "動画ファイルを選択してください。")
		return
	}

	start, errStart := formFloat(c, "startTime")
	end, errEnd := formFloat(c, "endTime")
	if errStart != nil || errEnd != nil {
		badRequest(c, "startTime と endTime を数値で指定してください。")
		return
	}
	// 範囲が不正な場合はファイルを保存する前に弾く
	if err := ValidateTrimRange(start, end); err != nil {
		respondWithError(c, err)
		return
	}
	preserve, err := formBool(c, "preserveMetadata")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	async, err := formBool(c, "async")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, ok := h.submit(c, file, OperationTrim, Parameters{
		Start:            &start,
		End:              &end,
		PreserveMetadata: preserve,
	}, async)
	if !ok {
		return
	}
	if summary.Queued {
		respondQueued(c, summary)
		return
	}

	payload := gin.H{
		"id":               summary.JobID,
		"message":          "動画をトリミングしました。",
		"preserveMetadata": preserve,
	}
	if d, ok := summary.Details.(*TrimDetails); ok {
		payload["filename"] = d.OutputFilename
		payload["fileSize"] = d.OutputSize
		payload["duration"] = d.Duration
	}
	if len(summary.Artifacts) > 0 {
		payload["outputPath"] = summary.Artifacts[0].URL
	}
	c.JSON(http.StatusOK, payload)
}

// ProcessImage は POST /api/360image/process のハンドラーです。
func (h *Handlers) ProcessImage(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		badRequest(c, "画像ファイルを選択してください。")
		return
	}
	preserve, err := formBool(c, "preserveMetadata")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, ok := h.submit(c, file, OperationImage, Parameters{
		Action:           strings.TrimSpace(c.PostForm("action")),
		PreserveMetadata: preserve,
	}, false)
	if !ok {
		return
	}

	payload := gin.H{
		"id":               summary.JobID,
		"message":          "画像を処理しました。",
		"preserveMetadata": preserve,
		"image":            summary.Image,
	}
	if d, ok := summary.Details.(*ImageDetails); ok {
		payload["action"] = d.Action
	}
	c.JSON(http.StatusOK, payload)
}

// cubeMapResult は1画像分の変換結果です。
type cubeMapResult struct {
	Original  string               `json:"original"`
	ID        int64                `json:"id,omitempty"`
	Status    string               `json:"status"`
	OutputDir string               `json:"outputDir,omitempty"`
	Faces     []artifacts.Location `json:"faces"`
	Code      string               `json:"code,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// CubeMap は POST /api/360image/cube-map のハンドラーです。画像ごとに1ジョブを作ります。
func (h *Handlers) CubeMap(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart/form-data で画像ファイルを送信してください。")
		return
	}
	defer form.RemoveAll()

	files := form.File["images"]
	if len(files) == 0 {
		files = form.File["images[]"]
	}
	if len(files) == 0 {
		badRequest(c, "画像ファイルを選択してください。")
		return
	}

	ctx := c.Request.Context()
	results := make([]cubeMapResult, 0, len(files))
	succeeded := 0
	for _, file := range files {
		result := cubeMapResult{Original: file.Filename, Faces: []artifacts.Location{}}

		upload, err := h.uploads.Save(ctx, file)
		if err == nil {
			var summary *Summary
			summary, err = h.jobs.Submit(ctx, &Request{Operation: OperationCubeMap, Upload: upload})
			if err == nil {
				succeeded++
				result.ID = summary.JobID
				result.Status = string(summary.Status)
				result.OutputDir = filepath.Base(summary.OutputDir)
				result.Faces = summary.Artifacts
			}
		}
		if err != nil {
			code, message, _ := describeError(err)
			result.Status = "failed"
			result.Code = code
			result.Error = message
			var jobErr *Error
			if errors.As(err, &jobErr) {
				result.ID = jobErr.JobID
			}
		}
		results = append(results, result)
	}

	status := http.StatusOK
	if succeeded == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{
		"message": fmt.Sprintf("%d件中%d件の画像をキューブマップに変換しました。", len(files), succeeded),
		"results": results,
	})
}

// submit はアップロードを保存してジョブを投入します。失敗時はレスポンスを書き込み false を返します。
func (h *Handlers) submit(c *gin.Context, file *multipart.FileHeader, op Operation, params Parameters, async bool) (*Summary, bool) {
	upload, err := h.uploads.Save(c.Request.Context(), file)
	if err != nil {
		respondWithError(c, err)
		return nil, false
	}
	summary, err := h.jobs.Submit(c.Request.Context(), &Request{
		Operation: op,
		Upload:    upload,
		Params:    params,
		Async:     async,
	})
	if err != nil {
		respondWithError(c, err)
		return nil, false
	}
	return summary, true
}

func parseFrameParams(c *gin.Context) (Parameters, bool, error) {
	var params Parameters

	mode := strings.TrimSpace(c.PostForm("mode"))
	if mode == "" {
		mode = strings.TrimSpace(c.PostForm("extractionMode"))
	}
	params.FrameMode = media.FrameMode(mode)

	if raw := strings.TrimSpace(c.PostForm("frameCount")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return params, false, errors.New("frameCount は0以上の整数で指定してください。")
		}
		params.FrameCount = n
	}

	var err error
	if params.ConfirmAll, err = formBool(c, "confirm"); err != nil {
		return params, false, err
	}
	if params.PreserveMetadata, err = formBool(c, "preserveMetadata"); err != nil {
		return params, false, err
	}
	async, err := formBool(c, "async")
	if err != nil {
		return params, false, err
	}
	return params, async, nil
}

func formBool(c *gin.Context, key string) (bool, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s は true か false で指定してください。", key)
	}
	return v, nil
}

func formFloat(c *gin.Context, key string) (float64, error) {
	raw := strings.TrimSpace(c.PostForm(key))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) {
		return 0, fmt.Errorf("%s is not a number", key)
	}
	return v, nil
}

func respondQueued(c *gin.Context, summary *Summary) {
	c.JSON(http.StatusAccepted, gin.H{
		"id":          summary.JobID,
		"status":      summary.Status,
		"message":     "ジョブを受け付けました。進捗は履歴から確認できます。",
		"progressUrl": fmt.Sprintf("/api/history/%d/progress", summary.JobID),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    CodeInvalidInput,
		"message": message,
	})
}

func describeError(err error) (code, message string, status int) {
	var jobErr *Error
	switch {
	case errors.As(err, &jobErr):
		return jobErr.Code, jobErr.Message, statusForCode(jobErr.Code)
	case errors.Is(err, context.Canceled):
		return "REQUEST_CANCELED", "リクエストがキャンセルされました。", http.StatusRequestTimeout
	default:
		return CodeInternal, "サーバー内部でエラーが発生しました。", http.StatusInternalServerError
	}
}

func statusForCode(code string) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeNotFound:
		return http.StatusNotFound
	case CodeToolError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(c *gin.Context, err error) {
	code, message, status := describeError(err)
	payload := gin.H{
		"code":    code,
		"message": message,
	}
	var jobErr *Error
	if errors.As(err, &jobErr) && jobErr.JobID != 0 {
		payload["jobId"] = jobErr.JobID
	}
	c.JSON(status, payload)
}
