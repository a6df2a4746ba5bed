package jobs

import (
	"math"

	"github.com/yourusername/media-forge/internal/media"
)

const maxDefaultFrames = 10

// FramePlan はツール起動前に決める抽出枚数と抽出位置です。
type FramePlan struct {
	Mode      media.FrameMode
	Count     int
	Duration  float64
	FrameRate float64
	spacing   float64
}

// PlanFrames はモードと動画情報から抽出枚数を決めます。
//
//   - count: min(要求数, 総フレーム数) 枚を始点・終点を除いて等間隔に。要求数が 0 なら
//     min(10, max(1, floor(長さ/10))) 枚。
//   - per-second: 1秒, 2秒, ... と長さ未満の整数秒ごとに1枚。
//   - all: ネイティブのフレームレートで全フレーム。
func PlanFrames(mode media.FrameMode, requested int, probe *media.ProbeResult) FramePlan {
	plan := FramePlan{Mode: mode}
	if probe == nil || probe.Duration <= 0 {
		return plan
	}
	d := probe.Duration
	plan.Duration = d
	plan.FrameRate = probe.FrameRate

	switch mode {
	case media.FrameModePerSecond:
		plan.Count = int(math.Ceil(d)) - 1
	case media.FrameModeAll:
		if probe.FrameRate <= 0 {
			return plan
		}
		plan.Count = probe.TotalFrames
		if plan.Count <= 0 {
			plan.Count = int(math.Floor(d * probe.FrameRate))
		}
	default:
		plan.Mode = media.FrameModeCount
		n := requested
		if n <= 0 {
			n = min(maxDefaultFrames, max(1, int(math.Floor(d/10))))
		}
		if probe.FrameRate > 0 && n > probe.TotalFrames {
			n = probe.TotalFrames
		}
		plan.Count = n
		plan.spacing = d / float64(n+1)
	}
	if plan.Count < 0 {
		plan.Count = 0
	}
	return plan
}

// TimestampAt は index 番目（0始まり）のフレームの位置（秒）を返します。
func (p FramePlan) TimestampAt(index int) float64 {
	var ts float64
	switch p.Mode {
	case media.FrameModePerSecond:
		ts = float64(index + 1)
	case media.FrameModeAll:
		if p.FrameRate > 0 {
			ts = float64(index) / p.FrameRate
		}
	default:
		ts = p.spacing * float64(index+1)
	}
	return math.Round(ts*1000) / 1000
}

// Timestamps は count / per-second で抽出する位置の一覧です。all では nil を返します。
func (p FramePlan) Timestamps() []float64 {
	if p.Mode == media.FrameModeAll || p.Count == 0 {
		return nil
	}
	out := make([]float64, p.Count)
	for i := range out {
		out[i] = p.TimestampAt(i)
	}
	return out
}
