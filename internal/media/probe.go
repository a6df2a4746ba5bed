package media

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ProbeResult は ffprobe の結果から取り出した情報です。Raw は ffprobe の出力そのものです。
type ProbeResult struct {
	Duration    float64         `json:"duration"`
	FrameRate   float64         `json:"frameRate"`
	TotalFrames int             `json:"totalFrames"`
	Width       int             `json:"width,omitempty"`
	Height      int             `json:"height,omitempty"`
	VideoCodec  string          `json:"videoCodec,omitempty"`
	AudioCodec  string          `json:"audioCodec,omitempty"`
	FormatName  string          `json:"formatName,omitempty"`
	BitRate     int64           `json:"bitRate,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width,omitempty"`
		Height       int    `json:"height,omitempty"`
		RFrameRate   string `json:"r_frame_rate,omitempty"`
		AvgFrameRate string `json:"avg_frame_rate,omitempty"`
		Duration     string `json:"duration,omitempty"`
		NbFrames     string `json:"nb_frames,omitempty"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// ParseProbe は `ffprobe -print_format json -show_format -show_streams` の出力を解析します。
func ParseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, newToolError("ffprobe", "failed to parse probe output", err)
	}
	if len(out.Streams) == 0 && out.Format.FormatName == "" {
		return nil, newToolError("ffprobe", "no media streams found", nil)
	}

	result := &ProbeResult{
		FormatName: out.Format.FormatName,
		Duration:   parseFloat(out.Format.Duration),
		Raw:        json.RawMessage(append([]byte(nil), data...)),
	}
	if br, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
		result.BitRate = br
	}

	nbFrames := 0
	for _, stream := range out.Streams {
		switch {
		case stream.CodecType == "video" && result.VideoCodec == "":
			result.VideoCodec = stream.CodecName
			result.Width = stream.Width
			result.Height = stream.Height
			result.FrameRate = parseRate(stream.AvgFrameRate)
			if result.FrameRate == 0 {
				result.FrameRate = parseRate(stream.RFrameRate)
			}
			if result.Duration == 0 {
				result.Duration = parseFloat(stream.Duration)
			}
			nbFrames, _ = strconv.Atoi(stream.NbFrames)
		case stream.CodecType == "audio" && result.AudioCodec == "":
			result.AudioCodec = stream.CodecName
		}
	}

	switch {
	case nbFrames > 0:
		result.TotalFrames = nbFrames
	case result.FrameRate > 0 && result.Duration > 0:
		result.TotalFrames = int(math.Floor(result.Duration * result.FrameRate))
	}
	return result, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// parseRate は "30000/1001" 形式のフレームレートを解析します。
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}
