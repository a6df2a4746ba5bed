package media

import (
	"context"
	"image"
	"os"
)

// ImageInfo は画像のフォーマットと寸法です。
type ImageInfo struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// InspectImage はヘッダーだけを読んで画像情報を返します。
func (t *Toolkit) InspectImage(ctx context.Context, input string) (*ImageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, newToolError("image", "failed to open image", err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, newToolError("image", "unsupported or corrupt image", err)
	}
	return &ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
