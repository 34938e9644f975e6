package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/config"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const outcomeKeyPrefix = "emotion:outcome:"

// CachedOutcome 平滑前的级联结果，按图像 MD5 缓存
type CachedOutcome struct {
	Outcome    cascade.Outcome           `json:"outcome"`
	Label      emotion.Label             `json:"label"`
	Confidence float64                   `json:"confidence"`
	Scores     map[emotion.Label]float64 `json:"scores,omitempty"`
	Source     cascade.Source            `json:"source,omitempty"`
	Stage      string                    `json:"stage,omitempty"`
	Warning    string                    `json:"warning,omitempty"`
	Box        *emotion.Region           `json:"box,omitempty"`
	FastTime   *float64                  `json:"fast_time,omitempty"`
	SlowTime   *float64                  `json:"slow_time,omitempty"`
}

// OutcomeCache 级联结果缓存
type OutcomeCache interface {
	GetOutcome(ctx context.Context, digest string) (*CachedOutcome, error)
	SetOutcome(ctx context.Context, digest string, outcome *CachedOutcome) error
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client 底层客户端，平滑存储复用同一连接池
func (s *RedisService) Client() *redis.Client {
	return s.client
}

// GetOutcome 从缓存获取级联结果
func (s *RedisService) GetOutcome(ctx context.Context, digest string) (*CachedOutcome, error) {
	key := outcomeKeyPrefix + digest
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}

	var outcome CachedOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		utils.Logger.Error("failed to unmarshal cached outcome",
			zap.String("digest", digest), zap.Error(err))
		return nil, err
	}

	return &outcome, nil
}

// SetOutcome 写入级联结果
func (s *RedisService) SetOutcome(ctx context.Context, digest string, outcome *CachedOutcome) error {
	key := outcomeKeyPrefix + digest
	data, err := json.Marshal(outcome)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
