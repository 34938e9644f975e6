package vision

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
)

// PigoConfig Pigo 检测参数
type PigoConfig struct {
	MinSize      int
	MaxSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	Quality      float32
}

// DefaultPigoConfig 默认检测参数
func DefaultPigoConfig() PigoConfig {
	return PigoConfig{
		MinSize:      20,
		MaxSize:      1000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		Quality:      5.0,
	}
}

// PigoLocator 基于 Pigo 级联的人脸检测（纯 Go，无需 CGO）
type PigoLocator struct {
	classifier *pigo.Pigo
	cfg        PigoConfig
}

// LoadPigoLocator 从 facefinder 级联文件创建检测器
func LoadPigoLocator(cascadePath string, cfg PigoConfig) (*PigoLocator, error) {
	data, err := os.ReadFile(cascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	return NewPigoLocator(data, cfg)
}

// NewPigoLocator 解析级联数据
func NewPigoLocator(cascade []byte, cfg PigoConfig) (*PigoLocator, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &PigoLocator{classifier: classifier, cfg: cfg}, nil
}

// Locate 检测人脸，过滤低质量结果
func (l *PigoLocator) Locate(ctx context.Context, img image.Image) ([]emotion.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := imaging.Clone(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	params := pigo.CascadeParams{
		MinSize:     l.cfg.MinSize,
		MaxSize:     l.cfg.MaxSize,
		ShiftFactor: l.cfg.ShiftFactor,
		ScaleFactor: l.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := l.classifier.RunCascade(params, 0.0)
	dets = l.classifier.ClusterDetections(dets, l.cfg.IoUThreshold)

	return detectionsToRegions(dets, l.cfg.Quality, src.Bounds()), nil
}

// detectionsToRegions Pigo 返回中心点与边长，转换为左上角坐标的区域
func detectionsToRegions(dets []pigo.Detection, quality float32, bounds image.Rectangle) []emotion.Region {
	regions := make([]emotion.Region, 0, len(dets))
	for _, d := range dets {
		if d.Q < quality {
			continue
		}
		half := d.Scale / 2
		rect := image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half).Intersect(bounds)
		if rect.Empty() {
			continue
		}
		regions = append(regions, FromRect(rect))
	}
	return regions
}
