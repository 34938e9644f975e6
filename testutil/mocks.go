// Package testutil 测试用的分类器与检测器替身
package testutil

import (
	"context"
	"image"
	"sync"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/emotion"
)

// MockClassifier 可编程的分类器，记录调用次数
type MockClassifier struct {
	ClassifyFunc func(ctx context.Context, img image.Image, opts cascade.Options) (*emotion.Response, error)

	mu       sync.Mutex
	calls    int
	lastOpts cascade.Options
	lastSize image.Point
}

// Returning 总是返回固定结果
func Returning(resp *emotion.Response) *MockClassifier {
	return &MockClassifier{
		ClassifyFunc: func(context.Context, image.Image, cascade.Options) (*emotion.Response, error) {
			return resp, nil
		},
	}
}

// Failing 总是返回错误
func Failing(err error) *MockClassifier {
	return &MockClassifier{
		ClassifyFunc: func(context.Context, image.Image, cascade.Options) (*emotion.Response, error) {
			return nil, err
		},
	}
}

func (m *MockClassifier) Classify(ctx context.Context, img image.Image, opts cascade.Options) (*emotion.Response, error) {
	m.mu.Lock()
	m.calls++
	m.lastOpts = opts
	if img != nil {
		m.lastSize = img.Bounds().Size()
	}
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, img, opts)
	}
	return &emotion.Response{Dominant: "neutral", Scores: map[string]float64{"neutral": 90}}, nil
}

// Calls 调用次数
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastOptions 最近一次调用参数
func (m *MockClassifier) LastOptions() cascade.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

// LastSize 最近一次输入图像尺寸
func (m *MockClassifier) LastSize() image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSize
}

// MockLocator 返回固定候选区域的检测器
type MockLocator struct {
	Regions []emotion.Region
	Err     error

	mu    sync.Mutex
	calls int
}

func (m *MockLocator) Locate(ctx context.Context, img image.Image) ([]emotion.Region, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.Regions, m.Err
}

// Calls 调用次数
func (m *MockLocator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
