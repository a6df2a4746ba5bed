package storage

import "time"

// Status はジョブの状態です。processing からいずれかの終端状態へ一度だけ遷移します。
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal は終端状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job は jobs テーブルの1行です。
type Job struct {
	ID           int64
	Filename     string
	OriginalName string
	FileSize     int64
	MimeType     string
	Operation    string
	Status       Status
	InputPath    string
	OutputPath   string
	MetadataPath string
	// Details は操作種別ごとの構造化メタデータ（JSON文字列）。解釈は書き込んだ側が行う。
	Details      string
	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time

	// ArtifactCount は一覧・詳細取得時に集計される派生値です。
	ArtifactCount int
}

// NewJob は CreateJob に渡す作成時の属性です。
type NewJob struct {
	Filename     string
	OriginalName string
	FileSize     int64
	MimeType     string
	Operation    string
	InputPath    string
	Details      string
}

// JobUpdate は UpdateJob の部分更新です。nil / 空のフィールドは変更しません。
type JobUpdate struct {
	Status       Status
	OutputPath   *string
	MetadataPath *string
	Details      *string
	ErrorMessage *string
}

func (u JobUpdate) empty() bool {
	return u.Status == "" && u.OutputPath == nil && u.MetadataPath == nil && u.Details == nil && u.ErrorMessage == nil
}

// Artifact はジョブが生成した成果物1件です。
type Artifact struct {
	ID        int64
	JobID     int64
	Path      string
	Ordinal   int
	Timestamp float64
	CreatedAt time.Time
}

// NewArtifact は AddArtifacts に渡す成果物です。
type NewArtifact struct {
	Path      string
	Ordinal   int
	Timestamp float64
}
