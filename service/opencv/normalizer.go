// Package opencv 基于 gocv 的图像解码、缩放与 Haar 人脸检测
package opencv

import (
	"fmt"
	"image"

	"github.com/TIANLI0/MoodLens/utils"
	"github.com/TIANLI0/MoodLens/vision"
	"gocv.io/x/gocv"
)

// Normalizer 把请求图像解码并缩放到工作分辨率
type Normalizer struct {
	maxSide int
	minSide int
}

func NewNormalizer(maxSide, minSide int) *Normalizer {
	return &Normalizer{maxSide: maxSide, minSide: minSide}
}

// Decode 解码 base64 图像，输入字节不保留
func (n *Normalizer) Decode(encoded string) (*vision.Frame, error) {
	raw, err := vision.DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}

	img, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("%w: unsupported image data", vision.ErrDecode)
	}

	scaled := n.smartResize(&img)
	defer scaled.Close()

	out, err := scaled.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vision.ErrDecode, err)
	}

	return &vision.Frame{
		Image:  out,
		Luma:   meanLuma(&scaled),
		Digest: utils.Digest(raw),
	}, nil
}

// smartResize 长边超限时区域插值缩小，短边不足时线性插值放大
func (n *Normalizer) smartResize(img *gocv.Mat) gocv.Mat {
	w, h, mode := vision.FitSize(img.Cols(), img.Rows(), n.maxSide, n.minSide)

	interp := gocv.InterpolationArea
	switch mode {
	case vision.ResampleNone:
		return img.Clone()
	case vision.ResampleUp:
		interp = gocv.InterpolationLinear
	}

	resized := gocv.NewMat()
	gocv.Resize(*img, &resized, image.Point{X: w, Y: h}, 0, 0, interp)
	return resized
}

// meanLuma 灰度均值
func meanLuma(img *gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)
	return gray.Mean().Val1
}
