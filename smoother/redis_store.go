package smoother

import (
	"context"
	"fmt"

	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const historyKeyPrefix = "emotion:history:"

// RedisStore 多实例部署时共享的历史存储，每个学生一个 list
type RedisStore struct {
	client redis.UniversalClient
	cfg    Config
	logger *zap.Logger
	owned  bool
}

// NewRedisStore 基于已有客户端创建，Close 不会关闭该客户端
func NewRedisStore(client redis.UniversalClient, cfg Config, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, cfg: cfg, logger: logger}
}

// DialRedisStore 自行建立连接
func DialRedisStore(opts *redis.Options, cfg Config, logger *zap.Logger) *RedisStore {
	s := NewRedisStore(redis.NewClient(opts), cfg, logger)
	s.owned = true
	return s
}

func historyKey(subjectID string) string {
	return historyKeyPrefix + subjectID
}

func (s *RedisStore) Push(ctx context.Context, subjectID string, label emotion.Label) (emotion.Label, error) {
	if subjectID == "" {
		return "", ErrEmptySubject
	}

	key := historyKey(subjectID)
	size := int64(s.cfg.size())

	var lrange *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, string(label))
		pipe.LTrim(ctx, key, -size, -1)
		if s.cfg.IdleTTL > 0 {
			pipe.Expire(ctx, key, s.cfg.IdleTTL)
		}
		lrange = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("smoother: push %s: %w", subjectID, err)
	}

	return Majority(toLabels(lrange.Val())), nil
}

func (s *RedisStore) History(ctx context.Context, subjectID string) ([]emotion.Label, error) {
	vals, err := s.client.LRange(ctx, historyKey(subjectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("smoother: history %s: %w", subjectID, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return toLabels(vals), nil
}

func (s *RedisStore) Forget(ctx context.Context, subjectID string) error {
	if err := s.client.Del(ctx, historyKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("smoother: forget %s: %w", subjectID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func toLabels(vals []string) []emotion.Label {
	out := make([]emotion.Label, len(vals))
	for i, v := range vals {
		out[i] = emotion.Label(v)
	}
	return out
}
