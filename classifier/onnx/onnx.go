// Package onnx 本地导出的情绪识别网络，通过 onnxruntime 推理
package onnx

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

const inputSize = 224

var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}
)

var (
	envOnce sync.Once
	envErr  error
)

// Config 模型与运行时路径
type Config struct {
	LibraryPath string
	ModelPath   string
	InputName   string
	OutputName  string
	// Labels 输出向量各维对应的标签
	Labels []string
}

// Classifier onnxruntime 会话，推理串行执行
type Classifier struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
}

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// New 加载模型并分配输入输出张量
func New(cfg Config) (*Classifier, error) {
	if len(cfg.Labels) == 0 {
		return nil, errors.New("onnx: labels are required")
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputSize, inputSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(cfg.Labels))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Classifier{
		session: session,
		input:   input,
		output:  output,
		labels:  cfg.Labels,
	}, nil
}

// Classify 模型不做人脸检测，DetectFace 被忽略
func (c *Classifier) Classify(ctx context.Context, img image.Image, _ cascade.Options) (*emotion.Response, error) {
	data := Preprocess(img)

	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	copy(c.input.GetData(), data)
	err := c.session.Run()
	logits := append([]float32(nil), c.output.GetData()...)
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}
	return ToResponse(Softmax(logits), c.labels)
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errors.Join(c.session.Destroy(), c.input.Destroy(), c.output.Destroy())
}

// Preprocess 缩放到 224x224，按 ImageNet 均值方差归一化，输出 CHW
func Preprocess(img image.Image) []float32 {
	resized := imaging.Resize(img, inputSize, inputSize, imaging.Linear)
	plane := inputSize * inputSize
	out := make([]float32, 3*plane)

	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			i := y*resized.Stride + x*4
			p := y*inputSize + x
			for ch := 0; ch < 3; ch++ {
				v := float32(resized.Pix[i+ch]) / 255
				out[ch*plane+p] = (v - mean[ch]) / std[ch]
			}
		}
	}
	return out
}

// Softmax 数值稳定的 softmax
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxV := float64(logits[0])
	for _, v := range logits[1:] {
		maxV = math.Max(maxV, float64(v))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxV)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// ToResponse 概率向量转为统一响应，取概率最大者为主情绪
func ToResponse(probs []float64, labels []string) (*emotion.Response, error) {
	if len(probs) != len(labels) {
		return nil, fmt.Errorf("onnx: %d outputs for %d labels", len(probs), len(labels))
	}

	resp := &emotion.Response{Scores: make(map[string]float64, len(labels))}
	best := -1.0
	for i, l := range labels {
		resp.Scores[l] = probs[i]
		if probs[i] > best {
			best = probs[i]
			resp.Dominant = l
		}
	}
	return resp, nil
}
