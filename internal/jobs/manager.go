// Package jobs はアップロードを受け付けてから成果物を記録するまでのジョブの流れを管理します。
package jobs

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yourusername/media-forge/internal/artifacts"
	"github.com/yourusername/media-forge/internal/media"
	"github.com/yourusername/media-forge/internal/storage"
)

// Tool は外部の処理ツールです。
type Tool interface {
	Probe(ctx context.Context, input string) (*media.ProbeResult, error)
	InspectImage(ctx context.Context, input string) (*media.ImageInfo, error)
	Execute(ctx context.Context, input string, params media.Params, outDir string, progress media.ProgressReporter) (*media.Output, error)
}

// Store はマネージャーが使う永続化操作です。
type Store interface {
	CreateJob(ctx context.Context, job storage.NewJob) (int64, error)
	UpdateJob(ctx context.Context, id int64, update storage.JobUpdate) (int64, error)
	GetJob(ctx context.Context, id int64) (*storage.Job, error)
	AddArtifacts(ctx context.Context, jobID int64, items []storage.NewArtifact) error
	ListArtifacts(ctx context.Context, jobID int64) ([]*storage.Artifact, error)
}

// Scheduler は記録済みジョブをバックグラウンド実行に回します。
type Scheduler interface {
	Schedule(ctx context.Context, jobID int64) error
}

// ProgressSink は進捗の通知先です。失敗しても処理は続行します。
type ProgressSink interface {
	Update(ctx context.Context, jobID int64, stage string, percent int) error
}

// Options は Manager の構成です。
type Options struct {
	OutputDir    string
	FrameHeight  int
	CubeFaceSize int
	Scheduler    Scheduler
	Progress     ProgressSink
	Logger       *log.Logger
}

// Manager は1件の処理依頼を最初から最後まで進めます。
type Manager struct {
	store        Store
	tool         Tool
	resolver     *artifacts.Resolver
	outputRoot   string
	frameHeight  int
	cubeFaceSize int
	scheduler    Scheduler
	progress     ProgressSink
	logger       *log.Logger
	newToken     func() string
}

// NewManager は Manager を初期化します。
func NewManager(store Store, tool Tool, resolver *artifacts.Resolver, opts Options) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if tool == nil {
		return nil, errors.New("tool is nil")
	}
	if resolver == nil {
		return nil, errors.New("resolver is nil")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:        store,
		tool:         tool,
		resolver:     resolver,
		outputRoot:   opts.OutputDir,
		frameHeight:  opts.FrameHeight,
		cubeFaceSize: opts.CubeFaceSize,
		scheduler:    opts.Scheduler,
		progress:     opts.Progress,
		logger:       logger,
		newToken:     uuid.NewString,
	}, nil
}

// run は実行中のジョブ1件の状態です。
type run struct {
	jobID   int64
	label   string
	token   string
	req     *Request
	details Details
}

// Submit は依頼を検証してジョブを記録し、ツールを1回起動して結果を返します。
// 入力ファイルはどの経路で終わっても削除されます。呼び出し元が切断してもジョブは最後まで進みます。
func (m *Manager) Submit(ctx context.Context, req *Request) (*Summary, error) {
	if req == nil {
		return nil, newError(CodeInvalidInput, "リクエストが空です。", nil)
	}
	if err := Validate(req); err != nil {
		m.discard("[JOB -]", req.Upload.Path)
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	r := m.register(ctx, req)

	if req.Async && m.scheduler != nil && r.jobID != 0 {
		err := m.scheduler.Schedule(ctx, r.jobID)
		if err == nil {
			m.logger.Printf("%s queued", r.label)
			m.reportProgress(ctx, r.jobID, "queued", 0)
			return &Summary{
				JobID:     r.jobID,
				Tracked:   true,
				Queued:    true,
				Operation: req.Operation,
				Status:    storage.StatusProcessing,
				Artifacts: []artifacts.Location{},
				Details:   r.details,
			}, nil
		}
		m.logger.Printf("%s enqueue failed, processing synchronously: %v", r.label, err)
	}

	return m.execute(ctx, r)
}

// Resume は記録済みのジョブを保存された内容から実行します（キューのワーカー用）。
// すでに終端状態のジョブは何もせずにその状態を返します。
func (m *Manager) Resume(ctx context.Context, jobID int64) (*Summary, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, &Error{Code: CodeStorageError, Message: "ジョブの取得に失敗しました。", JobID: jobID, Err: err}
	}
	if job == nil {
		return nil, &Error{Code: CodeNotFound, Message: "指定されたジョブは存在しません。", JobID: jobID}
	}

	op := Operation(job.Operation)
	details, err := DecodeDetails(op, job.Details)
	if err != nil {
		return nil, &Error{Code: CodeInternal, Message: "ジョブのメタデータを復元できません。", JobID: jobID, Err: err}
	}

	label := jobLabel(jobID, "")
	if job.Status.Terminal() {
		m.discard(label, job.InputPath)
		return &Summary{
			JobID:         jobID,
			Tracked:       true,
			Operation:     op,
			Status:        job.Status,
			OutputDir:     job.OutputPath,
			ArtifactCount: job.ArtifactCount,
			Artifacts:     []artifacts.Location{},
			Details:       details,
		}, nil
	}

	req := &Request{
		Operation: op,
		Upload: Upload{
			Path:         job.InputPath,
			StoredName:   job.Filename,
			OriginalName: job.OriginalName,
			Size:         job.FileSize,
			MimeType:     job.MimeType,
		},
		Params: paramsFromDetails(details),
	}
	return m.execute(context.WithoutCancel(ctx), &run{
		jobID:   jobID,
		label:   label,
		req:     req,
		details: details,
	})
}

// register はジョブを記録します。記録に失敗しても処理は続行し、ログで区別できるようにします。
func (m *Manager) register(ctx context.Context, req *Request) *run {
	details := initialDetails(req)
	if cm, ok := details.(*CubeMapDetails); ok {
		cm.FaceSize = m.cubeFaceSize
	}
	r := &run{req: req, details: details}

	encoded, err := EncodeDetails(details)
	if err == nil {
		r.jobID, err = m.store.CreateJob(ctx, storage.NewJob{
			Filename:     req.Upload.StoredName,
			OriginalName: req.Upload.OriginalName,
			FileSize:     req.Upload.Size,
			MimeType:     req.Upload.MimeType,
			Operation:    string(req.Operation),
			InputPath:    req.Upload.Path,
			Details:      encoded,
		})
	}
	if err != nil {
		r.jobID = 0
		r.token = m.newToken()
		r.label = jobLabel(0, r.token)
		m.logger.Printf("%s failed to record job, continuing without a durable record: %v", r.label, err)
		return r
	}
	r.label = jobLabel(r.jobID, "")
	m.logger.Printf("%s created operation=%s file=%q", r.label, req.Operation, req.Upload.OriginalName)
	return r
}

// execute はツールの起動から結果の記録までを行います。
func (m *Manager) execute(ctx context.Context, r *run) (summary *Summary, err error) {
	defer m.discard(r.label, r.req.Upload.Path)
	defer func() {
		if rec := recover(); rec != nil {
			summary = nil
			err = m.fail(ctx, r, newError(CodeInternal, fmt.Sprintf("処理中に予期しないエラーが発生しました: %v", rec), nil))
		}
	}()

	outDir := ""
	if r.req.Operation.producesFiles() {
		outDir = m.outputDir(r)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, m.fail(ctx, r, newError(CodeIOError, "出力ディレクトリの作成に失敗しました。", err))
		}
	}

	m.logger.Printf("%s processing operation=%s", r.label, r.req.Operation)
	result, err := m.process(ctx, r, outDir)
	if err != nil {
		return nil, m.fail(ctx, r, err)
	}

	items := make([]storage.NewArtifact, len(result.files))
	for i, path := range result.files {
		items[i] = storage.NewArtifact{
			Path:      path,
			Ordinal:   i + 1,
			Timestamp: result.timestampAt(i),
		}
	}
	if r.jobID != 0 {
		if err := m.store.AddArtifacts(ctx, r.jobID, items); err != nil {
			return nil, m.fail(ctx, r, newError(CodeStorageError, "成果物の記録に失敗しました。", err))
		}
	}

	m.complete(ctx, r, outDir)

	return &Summary{
		JobID:         r.jobID,
		Tracked:       r.jobID != 0,
		Operation:     r.req.Operation,
		Status:        storage.StatusCompleted,
		OutputDir:     outDir,
		ArtifactCount: len(items),
		Artifacts:     m.locations(ctx, r, outDir, items),
		Details:       r.details,
		Probe:         result.probe,
		Image:         result.image,
	}, nil
}

// outcome はツール起動の結果です。
type outcome struct {
	files       []string
	timestampAt func(int) float64
	probe       *media.ProbeResult
	image       *media.ImageInfo
}

func (m *Manager) process(ctx context.Context, r *run, outDir string) (*outcome, error) {
	req := r.req
	input := req.Upload.Path
	progress := m.reporter(ctx, r)
	res := &outcome{timestampAt: func(int) float64 { return 0 }}

	switch d := r.details.(type) {
	case *MetadataDetails:
		probe, err := m.tool.Probe(ctx, input)
		if err != nil {
			return nil, toolFailure("メタデータの抽出に失敗しました", err)
		}
		res.probe = probe
		d.MetadataExtracted = true
		d.Duration = probe.Duration
		d.FrameRate = probe.FrameRate
		d.TotalFrames = probe.TotalFrames
		d.Probe = probe.Raw

	case *FrameDetails:
		probe, err := m.tool.Probe(ctx, input)
		if err != nil {
			return nil, toolFailure("動画情報の取得に失敗しました", err)
		}
		res.probe = probe
		plan := PlanFrames(d.Mode, d.RequestedCount, probe)
		d.Mode = plan.Mode
		d.Duration = probe.Duration
		d.FrameRate = probe.FrameRate
		d.FramesDirectory = filepath.Base(outDir)
		res.timestampAt = plan.TimestampAt

		if plan.Count > 0 {
			out, err := m.tool.Execute(ctx, input, media.FrameParams{
				Mode:       plan.Mode,
				Timestamps: plan.Timestamps(),
				Height:     m.frameHeight,
			}, outDir, progress)
			if err != nil {
				return nil, toolFailure("フレームの抽出に失敗しました", err)
			}
			res.files = out.Files
		} else {
			m.logger.Printf("%s no frames to extract (duration=%.3f)", r.label, probe.Duration)
		}
		sortFrames(res.files)
		d.FrameCount = len(res.files)

	case *TrimDetails:
		out, err := m.tool.Execute(ctx, input, media.TrimParams{
			Start:            d.StartTime,
			End:              d.EndTime,
			PreserveMetadata: d.PreserveMetadata,
		}, outDir, progress)
		if err != nil {
			return nil, toolFailure("動画のトリミングに失敗しました", err)
		}
		res.files = out.Files
		sort.Strings(res.files)
		start := d.StartTime
		res.timestampAt = func(int) float64 { return start }
		if len(res.files) > 0 {
			d.OutputFilename = filepath.Base(res.files[0])
			if info, err := os.Stat(res.files[0]); err == nil {
				d.OutputSize = info.Size()
			}
		}

	case *ImageDetails:
		info, err := m.tool.InspectImage(ctx, input)
		if err != nil {
			return nil, toolFailure("画像の処理に失敗しました", err)
		}
		res.image = info
		d.Format = info.Format
		d.Width = info.Width
		d.Height = info.Height

	case *CubeMapDetails:
		info, err := m.tool.InspectImage(ctx, input)
		if err != nil {
			return nil, toolFailure("画像の読み込みに失敗しました", err)
		}
		res.image = info
		d.SourceWidth = info.Width
		d.SourceHeight = info.Height
		d.OutputDirectory = filepath.Base(outDir)

		out, err := m.tool.Execute(ctx, input, media.CubeMapParams{
			BaseName: d.BaseName,
			FaceSize: d.FaceSize,
		}, outDir, progress)
		if err != nil {
			return nil, toolFailure("キューブマップへの変換に失敗しました", err)
		}
		res.files = out.Files
		sort.Strings(res.files)

	default:
		return nil, newError(CodeInvalidInput, fmt.Sprintf("未対応の操作です: %s", req.Operation), nil)
	}
	return res, nil
}

// complete はジョブを completed にします。ここでの失敗はログのみで、結果は変えません。
func (m *Manager) complete(ctx context.Context, r *run, outDir string) {
	m.reportProgress(ctx, r.jobID, "completed", 100)
	if r.jobID == 0 {
		m.logger.Printf("%s completed without a durable record", r.label)
		return
	}

	update := storage.JobUpdate{Status: storage.StatusCompleted}
	if outDir != "" {
		update.OutputPath = &outDir
	}
	if encoded, err := EncodeDetails(r.details); err != nil {
		m.logger.Printf("%s failed to encode details: %v", r.label, err)
	} else {
		update.Details = &encoded
	}

	affected, err := m.store.UpdateJob(ctx, r.jobID, update)
	switch {
	case err != nil:
		m.logger.Printf("%s failed to mark job completed: %v", r.label, err)
	case affected == 0:
		m.logger.Printf("%s completion not applied: job missing or already finished", r.label)
	default:
		m.logger.Printf("%s completed", r.label)
	}
}

// fail はジョブを failed にして呼び出し元に返すエラーを作ります。
func (m *Manager) fail(ctx context.Context, r *run, err error) error {
	var jobErr *Error
	if !errors.As(err, &jobErr) {
		jobErr = newError(CodeInternal, "処理中にエラーが発生しました。", err)
	}
	jobErr.JobID = r.jobID
	m.logger.Printf("%s failed: %v", r.label, jobErr)
	m.reportProgress(ctx, r.jobID, "failed", 100)

	if r.jobID == 0 {
		return jobErr
	}
	message := jobErr.Message
	if jobErr.Err != nil {
		message = fmt.Sprintf("%s: %v", jobErr.Message, jobErr.Err)
	}
	affected, updateErr := m.store.UpdateJob(ctx, r.jobID, storage.JobUpdate{
		Status:       storage.StatusFailed,
		ErrorMessage: &message,
	})
	switch {
	case updateErr != nil:
		m.logger.Printf("%s failed to mark job failed: %v", r.label, updateErr)
	case affected == 0:
		m.logger.Printf("%s failure not applied: job missing or already finished", r.label)
	}
	return jobErr
}

func (m *Manager) locations(ctx context.Context, r *run, outDir string, items []storage.NewArtifact) []artifacts.Location {
	if r.jobID != 0 {
		stored, err := m.store.ListArtifacts(ctx, r.jobID)
		if err == nil {
			return m.resolver.ResolveAll(outDir, stored)
		}
		m.logger.Printf("%s failed to reload artifacts: %v", r.label, err)
	}
	list := make([]*storage.Artifact, len(items))
	for i, item := range items {
		list[i] = &storage.Artifact{
			JobID:     r.jobID,
			Path:      item.Path,
			Ordinal:   item.Ordinal,
			Timestamp: item.Timestamp,
		}
	}
	return m.resolver.ResolveAll(outDir, list)
}

// outputDir はジョブ専用の出力ディレクトリです。ジョブ ID を含むため衝突しません。
func (m *Manager) outputDir(r *run) string {
	prefix := r.req.Operation.dirPrefix()
	if r.jobID == 0 {
		return filepath.Join(m.outputRoot, fmt.Sprintf("%s_untracked_%s", prefix, r.token))
	}
	return filepath.Join(m.outputRoot, fmt.Sprintf("%s_%d", prefix, r.jobID))
}

func (m *Manager) reporter(ctx context.Context, r *run) media.ProgressReporter {
	if m.progress == nil || r.jobID == 0 {
		return nil
	}
	return func(stage string, percent int) {
		m.reportProgress(ctx, r.jobID, stage, percent)
	}
}

func (m *Manager) reportProgress(ctx context.Context, jobID int64, stage string, percent int) {
	if m.progress == nil || jobID == 0 {
		return
	}
	if err := m.progress.Update(ctx, jobID, stage, percent); err != nil {
		m.logger.Printf("%s failed to update progress: %v", jobLabel(jobID, ""), err)
	}
}

// discard は入力ファイルを削除します。失敗はログに残すだけです。
func (m *Manager) discard(label, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Printf("%s failed to remove input %s: %v", label, path, err)
	}
}

// Validate は依頼の必須項目を検証します。ジョブは作られません。
func Validate(req *Request) error {
	if !req.Operation.Valid() {
		return newError(CodeInvalidInput, fmt.Sprintf("未対応の操作です: %q", req.Operation), nil)
	}
	if req.Upload.Path == "" {
		return newError(CodeInvalidInput, "ファイルがアップロードされていません。", nil)
	}
	if _, err := os.Stat(req.Upload.Path); err != nil {
		return newError(CodeInvalidInput, "アップロードされたファイルが見つかりません。", err)
	}

	switch req.Operation {
	case OperationFrames:
		if err := requireMedia(req.Upload.MimeType, "video/"); err != nil {
			return err
		}
		switch req.Params.FrameMode {
		case "", media.FrameModeCount, media.FrameModePerSecond:
		case media.FrameModeAll:
			if !req.Params.ConfirmAll {
				return newError(CodeInvalidInput, "全フレーム抽出は負荷が高いため、confirm=true を指定してください。", nil)
			}
		default:
			return newError(CodeInvalidInput, fmt.Sprintf("未対応の抽出モードです: %q", req.Params.FrameMode), nil)
		}
		if req.Params.FrameCount < 0 {
			return newError(CodeInvalidInput, "frameCount は0以上で指定してください。", nil)
		}
	case OperationTrim:
		if err := requireMedia(req.Upload.MimeType, "video/"); err != nil {
			return err
		}
		if req.Params.Start == nil || req.Params.End == nil {
			return newError(CodeInvalidInput, "startTime と endTime を指定してください。", nil)
		}
		if err := ValidateTrimRange(*req.Params.Start, *req.Params.End); err != nil {
			return err
		}
	case OperationImage, OperationCubeMap:
		if err := requireMedia(req.Upload.MimeType, "image/"); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTrimRange は 0 <= start < end を検証します。
func ValidateTrimRange(start, end float64) error {
	if math.IsNaN(start) || math.IsNaN(end) || math.IsInf(start, 0) || math.IsInf(end, 0) {
		return newError(CodeInvalidInput, "開始・終了時間は数値で指定してください。", nil)
	}
	if start < 0 {
		return newError(CodeInvalidInput, "開始時間は0以上で指定してください。", nil)
	}
	if end <= start {
		return newError(CodeInvalidInput, "終了時間は開始時間より後にしてください。", nil)
	}
	return nil
}

func requireMedia(mimeType, prefix string) error {
	if mimeType == "" || strings.HasPrefix(mimeType, prefix) {
		return nil
	}
	return newError(CodeInvalidInput, fmt.Sprintf("対応していないファイル形式です: %s", mimeType), nil)
}

// initialDetails は処理前に分かっている要求内容をメタデータにします。
func initialDetails(req *Request) Details {
	p := req.Params
	switch req.Operation {
	case OperationMetadata:
		return &MetadataDetails{}
	case OperationFrames:
		mode := p.FrameMode
		if mode == "" {
			mode = media.FrameModeCount
		}
		return &FrameDetails{
			Mode:             mode,
			RequestedCount:   p.FrameCount,
			ConfirmAll:       p.ConfirmAll,
			PreserveMetadata: p.PreserveMetadata,
		}
	case OperationTrim:
		d := &TrimDetails{PreserveMetadata: p.PreserveMetadata}
		if p.Start != nil && p.End != nil {
			d.StartTime = *p.Start
			d.EndTime = *p.End
			d.Duration = *p.End - *p.Start
		}
		return d
	case OperationImage:
		action := p.Action
		if action == "" {
			action = "process"
		}
		return &ImageDetails{Action: action, PreserveMetadata: p.PreserveMetadata}
	case OperationCubeMap:
		base := strings.TrimSuffix(req.Upload.OriginalName, filepath.Ext(req.Upload.OriginalName))
		return &CubeMapDetails{
			BaseName: sanitizeName(base),
			Faces:    append([]string(nil), media.CubeFaces...),
		}
	}
	return nil
}

// paramsFromDetails は保存されたメタデータから依頼パラメータを復元します。
func paramsFromDetails(d Details) Parameters {
	switch v := d.(type) {
	case *FrameDetails:
		return Parameters{FrameMode: v.Mode, FrameCount: v.RequestedCount, ConfirmAll: v.ConfirmAll, PreserveMetadata: v.PreserveMetadata}
	case *TrimDetails:
		start, end := v.StartTime, v.EndTime
		return Parameters{Start: &start, End: &end, PreserveMetadata: v.PreserveMetadata}
	case *ImageDetails:
		return Parameters{Action: v.Action, PreserveMetadata: v.PreserveMetadata}
	}
	return Parameters{}
}

// sanitizeName はファイル名に使えない文字を置き換えます。
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, ". ")
	if name == "" {
		return "image"
	}
	return name
}

func toolFailure(message string, err error) *Error {
	var toolErr *media.ToolError
	if errors.As(err, &toolErr) {
		return newError(CodeToolError, fmt.Sprintf("%s（%s: %s）", message, toolErr.Tool, toolErr.Message), err)
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return newError(CodeIOError, message, err)
	}
	return newError(CodeToolError, message, err)
}

// sortFrames はフレーム番号順に並べます。番号が読めない名前は後ろに名前順で置きます。
func sortFrames(files []string) {
	slices.SortStableFunc(files, func(a, b string) int {
		na, okA := media.FrameNumber(a)
		nb, okB := media.FrameNumber(b)
		switch {
		case okA && okB:
			return cmp.Compare(na, nb)
		case okA:
			return -1
		case okB:
			return 1
		}
		return strings.Compare(a, b)
	})
}

func jobLabel(jobID int64, token string) string {
	if jobID == 0 {
		return fmt.Sprintf("[JOB untracked:%s]", token)
	}
	return fmt.Sprintf("[JOB %d]", jobID)
}

// SavedMetadata は保存したメタデータ JSON の情報です。
type SavedMetadata struct {
	JobID    int64  `json:"id,omitempty"`
	Filename string `json:"jsonFilename"`
	Path     string `json:"path"`
	URL      string `json:"url"`
}

// SaveMetadata はメタデータを <name>_metadata.json として出力ルートに保存し、
// jobID が指定されていればジョブのメタデータパスを更新します。
func (m *Manager) SaveMetadata(ctx context.Context, jobID int64, filename string, metadata json.RawMessage) (*SavedMetadata, error) {
	base := strings.TrimSuffix(filepath.Base(strings.TrimSpace(filename)), filepath.Ext(filename))
	if strings.TrimSpace(filename) == "" || base == "" || base == "." {
		return nil, newError(CodeInvalidInput, "filename を指定してください。", nil)
	}
	if len(metadata) == 0 || !json.Valid(metadata) || string(metadata) == "null" {
		return nil, newError(CodeInvalidInput, "metadata を JSON で指定してください。", nil)
	}

	var job *storage.Job
	if jobID != 0 {
		var err error
		job, err = m.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, &Error{Code: CodeStorageError, Message: "ジョブの取得に失敗しました。", JobID: jobID, Err: err}
		}
		if job == nil {
			return nil, &Error{Code: CodeNotFound, Message: "指定されたジョブは存在しません。", JobID: jobID}
		}
	}

	jsonName := sanitizeName(base) + "_metadata.json"
	path := filepath.Join(m.outputRoot, jsonName)
	pretty, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, newError(CodeInvalidInput, "metadata を JSON で指定してください。", err)
	}
	if err := os.MkdirAll(m.outputRoot, 0o755); err != nil {
		return nil, newError(CodeIOError, "出力ディレクトリの作成に失敗しました。", err)
	}
	if err := os.WriteFile(path, pretty, 0o644); err != nil {
		return nil, newError(CodeIOError, "メタデータの保存に失敗しました。", err)
	}

	saved := &SavedMetadata{JobID: jobID, Filename: jsonName, Path: path, URL: m.resolver.FileURL(path)}
	if job == nil {
		return saved, nil
	}

	label := jobLabel(jobID, "")
	update := storage.JobUpdate{MetadataPath: &path}
	if d, err := DecodeDetails(Operation(job.Operation), job.Details); err == nil {
		if md, ok := d.(*MetadataDetails); ok {
			md.MetadataSaved = true
			md.JSONFilename = jsonName
			if encoded, err := EncodeDetails(md); err == nil {
				update.Details = &encoded
			}
		}
	} else {
		m.logger.Printf("%s keeping details untouched: %v", label, err)
	}
	if _, err := m.store.UpdateJob(ctx, jobID, update); err != nil {
		m.logger.Printf("%s failed to record metadata path: %v", label, err)
	}
	return saved, nil
}
