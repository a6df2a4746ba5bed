package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/yourusername/media-forge/internal/media"
)

// Details は操作種別ごとの構造化メタデータです。jobs.details 列に JSON で保存されます。
type Details interface {
	Operation() Operation
}

// MetadataDetails はメタデータ抽出の結果です。
type MetadataDetails struct {
	MetadataExtracted bool            `json:"metadataExtracted"`
	Duration          float64         `json:"duration,omitempty"`
	FrameRate         float64         `json:"frameRate,omitempty"`
	TotalFrames       int             `json:"totalFrames,omitempty"`
	Probe             json.RawMessage `json:"probe,omitempty"`
	MetadataSaved     bool            `json:"metadataSaved,omitempty"`
	JSONFilename      string          `json:"jsonFilename,omitempty"`
}

func (*MetadataDetails) Operation() Operation { return OperationMetadata }

// FrameDetails はフレーム抽出の要求と結果です。
type FrameDetails struct {
	Mode             media.FrameMode `json:"mode"`
	RequestedCount   int             `json:"requestedCount,omitempty"`
	ConfirmAll       bool            `json:"confirmAll,omitempty"`
	PreserveMetadata bool            `json:"preserveMetadata"`
	Duration         float64         `json:"duration,omitempty"`
	FrameRate        float64         `json:"frameRate,omitempty"`
	FrameCount       int             `json:"frameCount"`
	FramesDirectory  string          `json:"framesDirectory,omitempty"`
}

func (*FrameDetails) Operation() Operation { return OperationFrames }

// TrimDetails はトリミングの要求と結果です。
type TrimDetails struct {
	StartTime        float64 `json:"startTime"`
	EndTime          float64 `json:"endTime"`
	Duration         float64 `json:"duration"`
	PreserveMetadata bool    `json:"preserveMetadata"`
	OutputFilename   string  `json:"outputFilename,omitempty"`
	OutputSize       int64   `json:"outputSize,omitempty"`
}

func (*TrimDetails) Operation() Operation { return OperationTrim }

// ImageDetails は360度画像処理の要求と結果です。
type ImageDetails struct {
	Action           string `json:"action"`
	PreserveMetadata bool   `json:"preserveMetadata"`
	Format           string `json:"format,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
}

func (*ImageDetails) Operation() Operation { return OperationImage }

// CubeMapDetails はキューブマップ変換の要求と結果です。
type CubeMapDetails struct {
	BaseName        string   `json:"baseName"`
	FaceSize        int      `json:"faceSize,omitempty"`
	Faces           []string `json:"faces"`
	SourceWidth     int      `json:"sourceWidth,omitempty"`
	SourceHeight    int      `json:"sourceHeight,omitempty"`
	OutputDirectory string   `json:"outputDirectory,omitempty"`
}

func (*CubeMapDetails) Operation() Operation { return OperationCubeMap }

// EncodeDetails は Details を保存用の文字列にします。
func EncodeDetails(d Details) (string, error) {
	if d == nil {
		return "", nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeDetails は保存された文字列を操作種別に応じた型で復元します。空文字なら空の値を返します。
func DecodeDetails(op Operation, raw string) (Details, error) {
	var d Details
	switch op {
	case OperationMetadata:
		d = &MetadataDetails{}
	case OperationFrames:
		d = &FrameDetails{}
	case OperationTrim:
		d = &TrimDetails{}
	case OperationImage:
		d = &ImageDetails{}
	case OperationCubeMap:
		d = &CubeMapDetails{}
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	if raw == "" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(raw), d); err != nil {
		return nil, fmt.Errorf("decode %s details: %w", op, err)
	}
	return d, nil
}
