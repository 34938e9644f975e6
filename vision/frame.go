package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/TIANLI0/MoodLens/utils"
	"github.com/disintegration/imaging"
)

// ErrDecode base64 或图像数据无法解码
var ErrDecode = errors.New("image decode failed")

// Frame 归一化后的单帧图像
type Frame struct {
	Image image.Image
	// Luma 灰度均值 0-255
	Luma float64
	// Digest 原始图像字节的 MD5
	Digest string
}

// Decoder 把请求中的编码图像转成工作分辨率的 Frame
type Decoder interface {
	Decode(encoded string) (*Frame, error)
}

// Resample 缩放方向
type Resample int

const (
	ResampleNone Resample = iota
	ResampleDown
	ResampleUp
)

// DecodeBase64 去掉 data URI 前缀后解码
func DecodeBase64(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if strings.HasPrefix(s, "data:") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data uri", ErrDecode)
		}
		s = s[idx+1:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

// FitSize 计算工作尺寸：长边超过 maxSide 时等比缩小，短边小于 minSide 时等比放大。
// 长边始终不超过 maxSide，极端宽高比下短边可能小于 minSide
func FitSize(width, height, maxSide, minSide int) (int, int, Resample) {
	w, h := width, height
	mode := ResampleNone

	if maxSide > 0 && max(w, h) > maxSide {
		w, h = fitLong(width, height, maxSide)
		mode = ResampleDown
	}

	if short := min(w, h); minSide > 0 && short < minSide {
		if w <= h {
			w, h = minSide, (h*minSide+short-1)/short
		} else {
			w, h = (w*minSide+short-1)/short, minSide
		}
		mode = ResampleUp

		if maxSide > 0 && max(w, h) > maxSide {
			w, h = fitLong(width, height, maxSide)
			switch long := max(width, height); {
			case long > maxSide:
				mode = ResampleDown
			case long < maxSide:
				mode = ResampleUp
			default:
				mode = ResampleNone
			}
		}
	}
	return w, h, mode
}

// fitLong 等比缩放到长边为 side，短边至少为 1
func fitLong(width, height, side int) (int, int) {
	long := max(width, height)
	if width >= height {
		return side, max(1, (height*side+long/2)/long)
	}
	return max(1, (width*side+long/2)/long), side
}

// MeanLuma 灰度均值
func MeanLuma(img image.Image) float64 {
	gray := imaging.Grayscale(img)
	n := len(gray.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum uint64
	for i := 0; i < len(gray.Pix); i += 4 {
		sum += uint64(gray.Pix[i])
	}
	return float64(sum) / float64(n)
}

// ImagingDecoder 纯 Go 解码实现，缩小用 Box 滤波近似区域插值，放大用线性插值
type ImagingDecoder struct {
	MaxSide int
	MinSide int
}

func (d ImagingDecoder) Decode(encoded string) (*Frame, error) {
	raw, err := DecodeBase64(encoded)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty raster", ErrDecode)
	}

	w, h, mode := FitSize(b.Dx(), b.Dy(), d.MaxSide, d.MinSide)
	var out image.Image
	switch mode {
	case ResampleDown:
		out = imaging.Resize(img, w, h, imaging.Box)
	case ResampleUp:
		out = imaging.Resize(img, w, h, imaging.Linear)
	default:
		out = imaging.Clone(img)
	}

	return &Frame{
		Image:  out,
		Luma:   MeanLuma(out),
		Digest: utils.Digest(raw),
	}, nil
}
