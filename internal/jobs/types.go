package jobs

import (
	"github.com/yourusername/media-forge/internal/artifacts"
	"github.com/yourusername/media-forge/internal/media"
	"github.com/yourusername/media-forge/internal/storage"
)

// Operation は処理の種別です。jobs.operation 列にそのまま保存されます。
type Operation string

const (
	OperationMetadata Operation = "metadata_extraction"
	OperationFrames   Operation = "frame_extraction"
	OperationTrim     Operation = "trim"
	OperationImage    Operation = "image_processing"
	OperationCubeMap  Operation = "cube_map"
)

// Valid は既知の操作種別かどうかを返します。
func (o Operation) Valid() bool {
	switch o {
	case OperationMetadata, OperationFrames, OperationTrim, OperationImage, OperationCubeMap:
		return true
	}
	return false
}

// dirPrefix は出力ディレクトリ名の接頭辞です。
func (o Operation) dirPrefix() string {
	switch o {
	case OperationMetadata:
		return "metadata"
	case OperationFrames:
		return "frames"
	case OperationTrim:
		return "trimmed"
	case OperationImage:
		return "image"
	case OperationCubeMap:
		return "cubemap"
	}
	return string(o)
}

// producesFiles は出力ディレクトリを必要とする操作かどうかを返します。
func (o Operation) producesFiles() bool {
	return o == OperationFrames || o == OperationTrim || o == OperationCubeMap
}

// Upload はアップロード済みの入力ファイルです。
type Upload struct {
	Path         string
	StoredName   string
	OriginalName string
	Size         int64
	MimeType     string
}

// Parameters は操作ごとの入力パラメータです。操作に関係しないフィールドは無視されます。
type Parameters struct {
	// フレーム抽出
	FrameMode  media.FrameMode
	FrameCount int // 0 なら動画の長さから決める
	ConfirmAll bool

	// トリミング（未指定を区別するためポインタ）
	Start *float64
	End   *float64

	// 360度画像
	Action string

	PreserveMetadata bool
}

// Request は1件の処理依頼です。
type Request struct {
	Operation Operation
	Upload    Upload
	Params    Parameters
	// Async はキューが構成されている場合にバックグラウンド実行を求めます。
	Async bool
}

// Summary は処理結果の要約です。
type Summary struct {
	JobID         int64                `json:"id"`
	Tracked       bool                 `json:"tracked"`
	Queued        bool                 `json:"queued,omitempty"`
	Operation     Operation            `json:"operation"`
	Status        storage.Status       `json:"status"`
	OutputDir     string               `json:"outputDir,omitempty"`
	ArtifactCount int                  `json:"artifactCount"`
	Artifacts     []artifacts.Location `json:"artifacts"`
	Details       Details              `json:"details,omitempty"`
	Probe         *media.ProbeResult   `json:"-"`
	Image         *media.ImageInfo     `json:"-"`
}
