package media

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// CubeFaces はキューブマップの面の並びです。成果物の ordinal はこの順に対応します。
var CubeFaces = []string{"front", "back", "left", "right", "top", "bottom"}

// CubeMapParams はキューブマップ分割のパラメータです。
type CubeMapParams struct {
	// BaseName は出力ファイル名の接頭辞です（空なら入力ファイル名）。
	BaseName string
	// FaceSize は出力する面の一辺（0 なら切り出したサイズのまま）。
	FaceSize int
}

func (CubeMapParams) paramsKind() string { return "cubemap" }

// CubeFaceFilename は面のファイル名です。番号を挟むことで辞書順が面の順序と一致します。
func CubeFaceFilename(base string, index int) string {
	return fmt.Sprintf("%s_%d_%s.png", base, index+1, CubeFaces[index])
}

func splitCubeMap(ctx context.Context, input string, p CubeMapParams, outDir string, progress ProgressReporter) error {
	src, err := decodeImage(input)
	if err != nil {
		return err
	}

	bounds := src.Bounds()
	size := min(bounds.Dx(), bounds.Dy()) / 4
	if size == 0 {
		return newToolError("cubemap", fmt.Sprintf("image too small: %dx%d", bounds.Dx(), bounds.Dy()), nil)
	}

	base := p.BaseName
	if base == "" {
		base = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}

	reportProgress(progress, "split", 0)
	for i := range CubeFaces {
		if err := ctx.Err(); err != nil {
			return err
		}
		face := cropFace(src, i, size, p.FaceSize)
		if err := writePNG(filepath.Join(outDir, CubeFaceFilename(base, i)), face); err != nil {
			return err
		}
		reportProgress(progress, "split", (i+1)*100/len(CubeFaces))
	}
	return nil
}

// cropFace は左上から横に並んだ index 番目の正方形を切り出します。
// 画像の外側にはみ出した部分は透明のまま残る。
func cropFace(src image.Image, index, size, outSize int) *image.NRGBA {
	b := src.Bounds()
	origin := image.Pt(b.Min.X+index*size, b.Min.Y)
	face := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(face, face.Bounds(), src, origin, draw.Src)

	if outSize <= 0 || outSize == size {
		return face
	}
	scaled := image.NewNRGBA(image.Rect(0, 0, outSize, outSize))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), face, face.Bounds(), draw.Src, nil)
	return scaled
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newToolError("cubemap", "failed to open image", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, newToolError("cubemap", "failed to decode image", err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return newToolError("cubemap", "failed to create face file", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return newToolError("cubemap", "failed to encode face", err)
	}
	if err := f.Close(); err != nil {
		return newToolError("cubemap", "failed to write face file", err)
	}
	return nil
}
