package cascade

import (
	"fmt"
	"time"

	"github.com/TIANLI0/MoodLens/emotion"
)

// Policy 级联的阈值与兜底策略
//
// 每一级都有两层接受条件：置信度达到 Threshold 直接接受；低于 Threshold 但达到
// Floor 仍然接受（宁可返回低置信度结果也不阻塞在后续模型上）。快速级的 Floor 为闭区间，
// 回退级的 Floor 为开区间。
type Policy struct {
	FastThreshold     float64       `mapstructure:"fast_threshold"`
	FastFloor         float64       `mapstructure:"fast_floor"`
	FallbackThreshold float64       `mapstructure:"fallback_threshold"`
	FallbackFloor     float64       `mapstructure:"fallback_floor"`
	DefaultLabel      emotion.Label `mapstructure:"default_label"`
	DefaultConfidence float64       `mapstructure:"default_confidence"`
	StageTimeout      time.Duration `mapstructure:"stage_timeout"`
	MinFaceSize       int           `mapstructure:"min_face_size"`
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		FastThreshold:     0.45,
		FastFloor:         0.25,
		FallbackThreshold: 0.25,
		FallbackFloor:     0.15,
		DefaultLabel:      emotion.Neutral,
		DefaultConfidence: 0.30,
		StageTimeout:      5 * time.Second,
		MinFaceSize:       50,
	}
}

// Validate 检查阈值是否自洽
func (p Policy) Validate() error {
	for name, v := range map[string]float64{
		"fast_threshold":     p.FastThreshold,
		"fast_floor":         p.FastFloor,
		"fallback_threshold": p.FallbackThreshold,
		"fallback_floor":     p.FallbackFloor,
		"default_confidence": p.DefaultConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("cascade policy: %s must be within [0,1], got %v", name, v)
		}
	}
	if p.FastFloor > p.FastThreshold {
		return fmt.Errorf("cascade policy: fast_floor %v above fast_threshold %v", p.FastFloor, p.FastThreshold)
	}
	if p.FallbackFloor > p.FallbackThreshold {
		return fmt.Errorf("cascade policy: fallback_floor %v above fallback_threshold %v", p.FallbackFloor, p.FallbackThreshold)
	}
	if !p.DefaultLabel.IsEmotion() {
		return fmt.Errorf("cascade policy: default_label %q is not an emotion", p.DefaultLabel)
	}
	return nil
}

// tier 返回接受层级，空字符串表示不接受
func (p Policy) tier(fast bool, confidence float64) Tier {
	if fast {
		switch {
		case confidence >= p.FastThreshold:
			return TierThreshold
		case confidence >= p.FastFloor:
			return TierFloor
		}
		return ""
	}
	switch {
	case confidence >= p.FallbackThreshold:
		return TierThreshold
	case confidence > p.FallbackFloor:
		return TierFloor
	}
	return ""
}
