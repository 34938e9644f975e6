// Package smoother 按学生维护最近 N 次识别结果，用多数投票输出稳定标签
package smoother

import (
	"context"
	"errors"
	"time"

	"github.com/TIANLI0/MoodLens/emotion"
)

// ErrEmptySubject 学生标识为空
var ErrEmptySubject = errors.New("smoother: empty subject id")

// Store 平滑历史存储
type Store interface {
	// Push 追加一次识别结果并返回当前稳定标签
	Push(ctx context.Context, subjectID string, label emotion.Label) (emotion.Label, error)
	// History 返回从旧到新的历史
	History(ctx context.Context, subjectID string) ([]emotion.Label, error)
	// Forget 清除学生历史
	Forget(ctx context.Context, subjectID string) error
	Close() error
}

// Config 平滑配置
type Config struct {
	Size    int           `mapstructure:"size"`
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
	// JanitorInterval 仅内存存储使用
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Size:            3,
		IdleTTL:         30 * time.Minute,
		JanitorInterval: time.Minute,
	}
}

func (c Config) size() int {
	if c.Size <= 0 {
		return 3
	}
	return c.Size
}

// Majority 出现次数最多的标签，次数相同时取最近出现的那个
func Majority(history []emotion.Label) emotion.Label {
	if len(history) == 0 {
		return ""
	}

	counts := make(map[emotion.Label]int, len(history))
	lastSeen := make(map[emotion.Label]int, len(history))
	for i, l := range history {
		counts[l]++
		lastSeen[l] = i
	}

	best := history[len(history)-1]
	for l, n := range counts {
		switch {
		case n > counts[best]:
			best = l
		case n == counts[best] && lastSeen[l] > lastSeen[best]:
			best = l
		}
	}
	return best
}
