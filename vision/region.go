// Package vision 人脸区域的选择、扩边、裁剪，以及纯 Go 的人脸检测实现
package vision

import (
	"bytes"
	"context"
	"image"

	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/disintegration/imaging"
)

// Locator 人脸检测能力，返回所有候选区域
type Locator interface {
	Locate(ctx context.Context, img image.Image) ([]emotion.Region, error)
}

// Largest 返回面积最大的候选区域，面积相同取先出现者
func Largest(candidates []emotion.Region) (emotion.Region, bool) {
	var best emotion.Region
	found := false
	for _, c := range candidates {
		if c.W <= 0 || c.H <= 0 {
			continue
		}
		if !found || c.W*c.H > best.W*best.H {
			best = c
			found = true
		}
	}
	return best, found
}

// SmallFace 宽或高小于 minSide 时视为过小
func SmallFace(r emotion.Region, minSide int) bool {
	return r.W < minSide || r.H < minSide
}

// Pad 四周扩展 margin 像素并裁剪到图像范围内
func Pad(r emotion.Region, margin int, bounds image.Rectangle) emotion.Region {
	rect := image.Rect(r.X-margin, r.Y-margin, r.X+r.W+margin, r.Y+r.H+margin).Intersect(bounds)
	return FromRect(rect)
}

// FromRect image.Rectangle 转为 Region
func FromRect(rect image.Rectangle) emotion.Region {
	return emotion.Region{X: rect.Min.X, Y: rect.Min.Y, W: rect.Dx(), H: rect.Dy()}
}

// Rect Region 转为 image.Rectangle
func Rect(r emotion.Region) image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Crop 裁剪人脸区域，边长小于 minSide 时线性插值放大到 upscaleTo
func Crop(img image.Image, r emotion.Region, minSide, upscaleTo int) image.Image {
	face := imaging.Crop(img, Rect(r))
	b := face.Bounds()
	if b.Dx() < minSide || b.Dy() < minSide {
		return imaging.Resize(face, upscaleTo, upscaleTo, imaging.Linear)
	}
	return face
}

// EncodeJPEG 编码为 JPEG，供远程分类器使用
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RGB 按行展开为 RGB uint8 数组 (H, W, 3)
func RGB(img image.Image) (data []byte, width, height int) {
	src := imaging.Clone(img)
	b := src.Bounds()
	width, height = b.Dx(), b.Dy()
	data = make([]byte, 0, width*height*3)
	for i := 0; i < len(src.Pix); i += 4 {
		data = append(data, src.Pix[i], src.Pix[i+1], src.Pix[i+2])
	}
	return data, width, height
}
