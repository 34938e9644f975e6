// Package classifier 按配置构建级联各级使用的分类器
package classifier

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/classifier/gemini"
	"github.com/TIANLI0/MoodLens/classifier/onnx"
	"github.com/TIANLI0/MoodLens/classifier/remote"
	"github.com/TIANLI0/MoodLens/classifier/sidecar"
	"github.com/TIANLI0/MoodLens/config"
)

// Set 构建好的快速级与回退级
type Set struct {
	Fast      cascade.Stage
	Fallbacks []cascade.Stage
	closers   []io.Closer
}

// Close 释放模型会话与客户端
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Build 第一项为快速级，同类驱动共享底层会话
func Build(ctx context.Context, cfg *config.Config) (*Set, error) {
	if len(cfg.Cascade.Stages) == 0 {
		return nil, errors.New("classifier: no stages configured")
	}

	set := &Set{}
	var local *onnx.Classifier
	llms := make(map[string]*gemini.Classifier)

	stages := make([]cascade.Stage, 0, len(cfg.Cascade.Stages))
	for _, st := range cfg.Cascade.Stages {
		var cl cascade.Classifier
		switch st.Driver {
		case "sidecar":
			cl = sidecar.New(cfg.Sidecar.Socket, st.Model, cfg.Sidecar.Timeout)
		case "remote":
			cl = remote.New(cfg.Remote.URL, cfg.Remote.APIKey, st.Model, cfg.Remote.Timeout)
		case "onnx":
			if local == nil {
				c, err := onnx.New(onnx.Config{
					LibraryPath: cfg.ONNX.LibraryPath,
					ModelPath:   cfg.ONNX.ModelPath,
					InputName:   cfg.ONNX.InputName,
					OutputName:  cfg.ONNX.OutputName,
					Labels:      cfg.ONNX.Labels,
				})
				if err != nil {
					set.Close()
					return nil, fmt.Errorf("stage %s: %w", st.Name, err)
				}
				local = c
				set.closers = append(set.closers, c)
			}
			cl = local
		case "gemini":
			model := st.Model
			if model == "" {
				model = cfg.Gemini.Model
			}
			c, ok := llms[model]
			if !ok {
				var err error
				c, err = gemini.New(ctx, cfg.Gemini.APIKey, model)
				if err != nil {
					set.Close()
					return nil, fmt.Errorf("stage %s: %w", st.Name, err)
				}
				llms[model] = c
				set.closers = append(set.closers, c)
			}
			cl = c
		default:
			set.Close()
			return nil, fmt.Errorf("stage %s: unknown driver %q", st.Name, st.Driver)
		}
		stages = append(stages, cascade.Stage{Name: st.Name, Classifier: cl})
	}

	set.Fast = stages[0]
	set.Fallbacks = stages[1:]
	return set, nil
}
