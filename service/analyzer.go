package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/config"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/model"
	"github.com/TIANLI0/MoodLens/smoother"
	"github.com/TIANLI0/MoodLens/utils"
	"github.com/TIANLI0/MoodLens/vision"
	"go.uber.org/zap"
)

var (
	// ErrMissingField 缺少 studentId 或 image
	ErrMissingField = errors.New("missing required field")
	// ErrDecode 图像无法解码
	ErrDecode = vision.ErrDecode
	// ErrBusy 等待处理队列超时
	ErrBusy = errors.New("analyzer queue is full")
)

// LowLightPolicy 低光照处理策略
type LowLightPolicy string

const (
	LowLightSkip   LowLightPolicy = "skip"
	LowLightReject LowLightPolicy = "reject"
	LowLightWarn   LowLightPolicy = "warn"
)

// Recorder 识别事件记录
type Recorder interface {
	Record(ctx context.Context, result *model.AnalyzeResult) error
}

// AnalyzerConfig 单帧识别流程参数
type AnalyzerConfig struct {
	Padding           int
	CropMinSide       int
	CropUpscale       int
	MinFaceSize       int
	LowLight          LowLightPolicy
	LowLightThreshold float64
	MaxConcurrent     int
	QueueTimeout      time.Duration
}

// AnalyzerConfigFrom 从全局配置提取
func AnalyzerConfigFrom(cfg *config.Config) AnalyzerConfig {
	return AnalyzerConfig{
		Padding:           cfg.Image.Padding,
		CropMinSide:       cfg.Image.CropMinSide,
		CropUpscale:       cfg.Image.CropUpscale,
		MinFaceSize:       cfg.Cascade.MinFaceSize,
		LowLight:          LowLightPolicy(cfg.LowLight.Policy),
		LowLightThreshold: cfg.LowLight.Threshold,
		MaxConcurrent:     cfg.Analyzer.MaxConcurrent,
		QueueTimeout:      time.Duration(cfg.Analyzer.QueueTimeout) * time.Second,
	}
}

// AnalyzerService 单帧情绪识别：解码、定位、级联分类、时序平滑
type AnalyzerService struct {
	cfg       AnalyzerConfig
	decoder   vision.Decoder
	locator   vision.Locator
	cascade   *cascade.Cascade
	history   smoother.Store
	cache     OutcomeCache
	recorder  Recorder
	semaphore chan struct{}
	now       func() time.Time
}

// AnalyzerOption 可选依赖
type AnalyzerOption func(*AnalyzerService)

// WithOutcomeCache 启用级联结果缓存
func WithOutcomeCache(cache OutcomeCache) AnalyzerOption {
	return func(s *AnalyzerService) {
		s.cache = cache
	}
}

// WithRecorder 启用事件记录
func WithRecorder(rec Recorder) AnalyzerOption {
	return func(s *AnalyzerService) {
		s.recorder = rec
	}
}

// NewAnalyzerService locator 为 nil 时总是由分类器自行检测人脸
func NewAnalyzerService(cfg AnalyzerConfig, decoder vision.Decoder, locator vision.Locator, cas *cascade.Cascade, history smoother.Store, opts ...AnalyzerOption) *AnalyzerService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.LowLight == "" {
		cfg.LowLight = LowLightSkip
	}

	s := &AnalyzerService{
		cfg:       cfg,
		decoder:   decoder,
		locator:   locator,
		cascade:   cas,
		history:   history,
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy 当前级联策略
func (s *AnalyzerService) Policy() cascade.Policy {
	return s.cascade.Policy()
}

// Stages 级联各级名称
func (s *AnalyzerService) Stages() []string {
	return s.cascade.Stages()
}

// Forget 清除学生的平滑历史
func (s *AnalyzerService) Forget(ctx context.Context, studentID string) error {
	return s.history.Forget(ctx, studentID)
}

// Analyze 识别单帧图像
func (s *AnalyzerService) Analyze(ctx context.Context, req *model.AnalyzeRequest) (*model.AnalyzeResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	startTime := time.Now()

	frame, err := s.decoder.Decode(req.Image)
	if err != nil {
		if !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return nil, err
	}

	lowLight := s.cfg.LowLight != LowLightSkip && frame.Luma < s.cfg.LowLightThreshold

	var outcome *CachedOutcome
	if lowLight && s.cfg.LowLight == LowLightReject {
		outcome = &CachedOutcome{
			Outcome: cascade.OutcomeNoFace,
			Label:   emotion.NoFace,
			Warning: cascade.WarnLowLight,
		}
	} else {
		outcome, err = s.classify(ctx, frame)
		if err != nil {
			return nil, err
		}
		if lowLight && outcome.Warning == "" {
			outcome.Warning = cascade.WarnLowLight
		}
	}

	label := outcome.Label
	if outcome.Outcome == cascade.OutcomeAccepted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stable, err := s.history.Push(ctx, req.StudentID, label)
		if err != nil {
			utils.Logger.Warn("smoothing store unavailable, using raw label",
				zap.String("student_id", req.StudentID),
				zap.Error(err))
		} else {
			label = stable
		}
	}

	result := s.buildResult(req, outcome, label)

	utils.Logger.Info("frame analyzed",
		zap.String("student_id", req.StudentID),
		zap.String("class_id", req.ClassID),
		zap.String("outcome", string(outcome.Outcome)),
		zap.String("raw", string(outcome.Label)),
		zap.String("emotion", result.Emotion),
		zap.Float64("confidence", result.Confidence),
		zap.String("stage", outcome.Stage),
		zap.String("warning", outcome.Warning),
		zap.Float64("luma", frame.Luma),
		zap.Duration("duration", time.Since(startTime)))

	if s.recorder != nil {
		if err := s.recorder.Record(ctx, result); err != nil {
			utils.Logger.Warn("failed to record emotion event",
				zap.String("student_id", req.StudentID), zap.Error(err))
		}
	}

	return result, nil
}

func validate(req *model.AnalyzeRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrMissingField)
	}
	if strings.TrimSpace(req.StudentID) == "" {
		return fmt.Errorf("%w: studentId", ErrMissingField)
	}
	if strings.TrimSpace(req.Image) == "" {
		return fmt.Errorf("%w: image", ErrMissingField)
	}
	return nil
}

// acquire 并发控制，排队超时返回 ErrBusy
func (s *AnalyzerService) acquire(ctx context.Context) (func(), error) {
	waitCtx := ctx
	if s.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.QueueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrBusy
	}
}

// classify 命中缓存时跳过检测与分类
func (s *AnalyzerService) classify(ctx context.Context, frame *vision.Frame) (*CachedOutcome, error) {
	useCache := s.cache != nil && frame.Digest != ""
	if useCache {
		cached, err := s.cache.GetOutcome(ctx, frame.Digest)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		} else if cached != nil {
			utils.Logger.Debug("cache hit", zap.String("digest", frame.Digest))
			// 本次请求未调用分类器
			cached.FastTime = nil
			cached.SlowTime = nil
			return cached, nil
		}
	}

	outcome, err := s.runCascade(ctx, frame)
	if err != nil {
		return nil, err
	}

	if useCache && outcome.Outcome != cascade.OutcomeDefault {
		if err := s.cache.SetOutcome(ctx, frame.Digest, outcome); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}
	return outcome, nil
}

func (s *AnalyzerService) runCascade(ctx context.Context, frame *vision.Frame) (*CachedOutcome, error) {
	input := frame.Image
	opts := cascade.Options{DetectFace: true}
	var box *emotion.Region

	if s.locator != nil {
		regions, err := s.locator.Locate(ctx, frame.Image)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			utils.Logger.Warn("face locator failed, delegating detection to classifier", zap.Error(err))
			regions = nil
		}

		if face, ok := vision.Largest(regions); ok {
			if vision.SmallFace(face, s.cfg.MinFaceSize) {
				return toOutcome(cascade.NoFace(cascade.WarnSmallFace, &face, nil), nil), nil
			}
			padded := vision.Pad(face, s.cfg.Padding, frame.Image.Bounds())
			input = vision.Crop(frame.Image, padded, s.cfg.CropMinSide, s.cfg.CropUpscale)
			opts.DetectFace = false
			box = &padded
		}
	}

	res, err := s.cascade.Run(ctx, input, opts)
	if err != nil {
		return nil, err
	}

	for _, a := range res.Trace {
		utils.Logger.Debug("cascade attempt",
			zap.String("stage", a.Stage),
			zap.Duration("duration", a.Duration),
			zap.String("label", string(a.Label)),
			zap.Float64("confidence", a.Confidence),
			zap.Error(a.Err))
	}
	return toOutcome(res, box), nil
}

func toOutcome(res *cascade.Result, box *emotion.Region) *CachedOutcome {
	o := &CachedOutcome{
		Outcome:    res.Outcome,
		Label:      res.Label,
		Confidence: res.Confidence,
		Source:     res.Source,
		Stage:      res.Stage,
		Warning:    res.Warning,
		Box:        box,
	}
	if res.Accepted() {
		o.Scores = res.Scores
	}
	if d, ok := res.FastDuration(); ok {
		o.FastTime = seconds(d)
	}
	if d, ok := res.SlowDuration(); ok {
		o.SlowTime = seconds(d)
	}
	return o
}

func (s *AnalyzerService) buildResult(req *model.AnalyzeRequest, o *CachedOutcome, label emotion.Label) *model.AnalyzeResult {
	result := &model.AnalyzeResult{
		Success:    true,
		StudentID:  req.StudentID,
		Name:       req.Name,
		ClassID:    req.ClassID,
		Emotion:    string(label),
		Confidence: emotion.ToPercent(o.Confidence),
		Engagement: emotion.Engagement(label, o.Confidence),
		FastTime:   o.FastTime,
		SlowTime:   o.SlowTime,
		Timestamp:  s.now().UnixMilli(),
	}

	if o.Outcome == cascade.OutcomeAccepted {
		source := string(o.Source)
		result.Source = &source
		if len(o.Scores) > 0 {
			result.Emotions = make(map[string]float64, len(o.Scores))
			for l, v := range o.Scores {
				result.Emotions[string(l)] = emotion.ToPercent(v)
			}
		}
	}
	if o.Box != nil {
		result.Box = []int{o.Box.X, o.Box.Y, o.Box.W, o.Box.H}
	}
	if o.Warning != "" {
		warning := o.Warning
		result.Warning = &warning
	}
	return result
}

func seconds(d time.Duration) *float64 {
	v := math.Round(d.Seconds()*1000) / 1000
	return &v
}
