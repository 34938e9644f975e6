// Package cascade 多级情绪分类级联：快速模型优先，置信度不足时逐级回退，全部失败时给出默认结果
package cascade

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/vision"
	"go.uber.org/zap"
)

var (
	// ErrCapability 分类器调用失败或超时
	ErrCapability = errors.New("classifier capability failure")
	// ErrNoUsableResult 所有级别均未给出可用结果
	ErrNoUsableResult = errors.New("no usable classification result")
)

// Source 结果来源
type Source string

const (
	SourceFast     Source = "fast"
	SourceFallback Source = "fallback"
)

// Tier 接受层级
type Tier string

const (
	TierThreshold Tier = "threshold"
	TierFloor     Tier = "floor"
)

// Outcome 级联终止状态
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeNoFace   Outcome = "no_face"
	OutcomeDefault  Outcome = "default"
)

const (
	WarnSmallFace   = "small_face"
	WarnNoDetection = "no_detection"
	WarnLowLight    = "low_light"
)

// Options 传给分类器的调用参数
type Options struct {
	// DetectFace 为 true 时由分类器自行检测人脸（上游未找到人脸区域）
	DetectFace bool
}

// Classifier 外部情绪分类能力
type Classifier interface {
	Classify(ctx context.Context, img image.Image, opts Options) (*emotion.Response, error)
}

// ClassifierFunc 函数适配器
type ClassifierFunc func(ctx context.Context, img image.Image, opts Options) (*emotion.Response, error)

func (f ClassifierFunc) Classify(ctx context.Context, img image.Image, opts Options) (*emotion.Response, error) {
	return f(ctx, img, opts)
}

// Stage 级联中的一级
type Stage struct {
	Name       string
	Classifier Classifier
}

// Attempt 单级调用记录
type Attempt struct {
	Stage      string
	Duration   time.Duration
	Label      emotion.Label
	Confidence float64
	Err        error
}

// Result 级联输出，Confidence 为 0-1
type Result struct {
	Outcome    Outcome
	Label      emotion.Label
	Confidence float64
	Scores     map[emotion.Label]float64
	Source     Source
	Stage      string
	Tier       Tier
	Region     *emotion.Region
	Warning    string
	Trace      []Attempt
}

// Accepted 是否为某一级接受的结果（只有这类结果参与时序平滑）
func (r *Result) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}

// FastDuration 快速级耗时
func (r *Result) FastDuration() (time.Duration, bool) {
	if len(r.Trace) == 0 {
		return 0, false
	}
	return r.Trace[0].Duration, true
}

// SlowDuration 最后一次回退级耗时
func (r *Result) SlowDuration() (time.Duration, bool) {
	if len(r.Trace) < 2 {
		return 0, false
	}
	return r.Trace[len(r.Trace)-1].Duration, true
}

// Option 可选配置
type Option func(*Cascade)

// WithLogger 注入日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cascade) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cascade 分类级联
type Cascade struct {
	fast      Stage
	fallbacks []Stage
	policy    Policy
	logger    *zap.Logger
}

// New 创建级联，fast 为快速级，fallbacks 按优先级排列
func New(fast Stage, fallbacks []Stage, policy Policy, opts ...Option) (*Cascade, error) {
	if fast.Classifier == nil {
		return nil, errors.New("cascade: fast stage classifier is required")
	}
	for i, st := range fallbacks {
		if st.Classifier == nil {
			return nil, fmt.Errorf("cascade: fallback stage %d (%s) has no classifier", i, st.Name)
		}
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	c := &Cascade{
		fast:      fast,
		fallbacks: fallbacks,
		policy:    policy,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Policy 当前策略
func (c *Cascade) Policy() Policy {
	return c.policy
}

// Stages 所有级别名称
func (c *Cascade) Stages() []string {
	names := []string{c.fast.Name}
	for _, st := range c.fallbacks {
		names = append(names, st.Name)
	}
	return names
}

// Run 执行级联。请求被取消时返回 ctx 错误，其他情况总是返回结果
func (c *Cascade) Run(ctx context.Context, img image.Image, opts Options) (*Result, error) {
	stages := append([]Stage{c.fast}, c.fallbacks...)
	trace := make([]Attempt, 0, len(stages))

	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reading, attempt := c.attempt(ctx, st, img, opts)
		trace = append(trace, attempt)
		if attempt.Err != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			c.logger.Debug("cascade stage produced no result",
				zap.String("stage", st.Name),
				zap.Duration("duration", attempt.Duration),
				zap.Error(attempt.Err))
			continue
		}

		if reading.Region != nil && vision.SmallFace(*reading.Region, c.policy.MinFaceSize) {
			c.logger.Debug("classifier reported small face",
				zap.String("stage", st.Name),
				zap.Int("w", reading.Region.W),
				zap.Int("h", reading.Region.H))
			return NoFace(WarnSmallFace, reading.Region, trace), nil
		}

		if !reading.Label.IsEmotion() {
			trace[len(trace)-1].Err = fmt.Errorf("%w: label %q not in taxonomy", emotion.ErrUnusable, reading.Raw)
			c.logger.Debug("cascade stage label not in taxonomy",
				zap.String("stage", st.Name),
				zap.String("label", reading.Raw))
			continue
		}

		fast := i == 0
		tier := c.policy.tier(fast, reading.Confidence)
		if tier == "" {
			c.logger.Debug("cascade stage below floor",
				zap.String("stage", st.Name),
				zap.String("label", reading.Label.String()),
				zap.Float64("confidence", reading.Confidence))
			continue
		}

		source := SourceFallback
		if fast {
			source = SourceFast
		}
		return &Result{
			Outcome:    OutcomeAccepted,
			Label:      reading.Label,
			Confidence: reading.Confidence,
			Scores:     reading.Scores,
			Source:     source,
			Stage:      st.Name,
			Tier:       tier,
			Region:     reading.Region,
			Trace:      trace,
		}, nil
	}

	c.logger.Info("cascade exhausted, using default",
		zap.Int("stages", len(stages)),
		zap.Error(ErrNoUsableResult))

	return &Result{
		Outcome:    OutcomeDefault,
		Label:      c.policy.DefaultLabel,
		Confidence: c.policy.DefaultConfidence,
		Warning:    WarnNoDetection,
		Trace:      trace,
	}, nil
}

// NoFace 构造短路结果
func NoFace(warning string, region *emotion.Region, trace []Attempt) *Result {
	return &Result{
		Outcome: OutcomeNoFace,
		Label:   emotion.NoFace,
		Warning: warning,
		Region:  region,
		Trace:   trace,
	}
}

// attempt 调用单级分类器并归一化，调用失败、超时、无法归一化都记为错误；标签是否在分类体系内由 Run 在人脸尺寸检查之后判断
func (c *Cascade) attempt(ctx context.Context, st Stage, img image.Image, opts Options) (reading emotion.Reading, a Attempt) {
	a.Stage = st.Name
	start := time.Now()
	defer func() {
		a.Duration = time.Since(start)
	}()

	if c.policy.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.StageTimeout)
		defer cancel()
	}

	resp, err := safeClassify(ctx, st.Classifier, img, opts)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		a.Err = fmt.Errorf("%w: %s: %v", ErrCapability, st.Name, err)
		return reading, a
	}

	reading, err = emotion.Normalize(resp)
	if err != nil {
		a.Err = err
		return reading, a
	}
	a.Label = reading.Label
	a.Confidence = reading.Confidence
	return reading, a
}

// safeClassify 在独立 goroutine 中调用分类器，超时或取消时立即返回
func safeClassify(ctx context.Context, cl Classifier, img image.Image, opts Options) (*emotion.Response, error) {
	type reply struct {
		resp *emotion.Response
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("classifier panic: %v", r)}
			}
		}()
		resp, err := cl.Classify(ctx, img, opts)
		done <- reply{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
