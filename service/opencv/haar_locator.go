package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/vision"
	"gocv.io/x/gocv"
)

// HaarConfig Haar 级联检测参数
type HaarConfig struct {
	Path         string
	CLAHE        bool
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

// HaarLocator 基于 OpenCV Haar 级联的人脸检测
type HaarLocator struct {
	cfg        HaarConfig
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	clahe      gocv.CLAHE
}

func NewHaarLocator(cfg HaarConfig) (*HaarLocator, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.Path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load haar cascade %s", cfg.Path)
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = 1.05
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = 3
	}

	return &HaarLocator{
		cfg:        cfg,
		classifier: classifier,
		clahe:      gocv.NewCLAHEWithParams(2.0, image.Point{X: 8, Y: 8}),
	}, nil
}

// Locate 检测图像中的人脸位置
func (l *HaarLocator) Locate(ctx context.Context, img image.Image) ([]emotion.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cfg.CLAHE {
		l.clahe.Apply(gray, &gray)
	}

	minSize := image.Point{X: l.cfg.MinSize, Y: l.cfg.MinSize}
	rects := l.classifier.DetectMultiScaleWithParams(gray, l.cfg.ScaleFactor, l.cfg.MinNeighbors, 0, minSize, image.Point{})

	regions := make([]emotion.Region, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, vision.FromRect(r))
	}
	return regions, nil
}

func (l *HaarLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clahe.Close()
	return l.classifier.Close()
}
