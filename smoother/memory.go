package smoother

import (
	"context"
	"sync"
	"time"

	"github.com/TIANLI0/MoodLens/emotion"
	"go.uber.org/zap"
)

type buffer struct {
	mu       sync.Mutex
	labels   []emotion.Label
	lastSeen time.Time
	// removed 已从 map 中删除，持有者需重新获取
	removed bool
}

// MemoryStore 进程内历史存储，同一学生的写入串行，不同学生互不阻塞
type MemoryStore struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	buffers map[string]*buffer

	now       func() time.Time
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemoryStore 创建内存存储，IdleTTL 与 JanitorInterval 都大于0时启动清理协程
func NewMemoryStore(cfg Config, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		cfg:     cfg,
		logger:  logger,
		buffers: make(map[string]*buffer),
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	if cfg.IdleTTL > 0 && cfg.JanitorInterval > 0 {
		s.wg.Add(1)
		go s.janitor()
	}
	return s
}

func (s *MemoryStore) get(subjectID string) *buffer {
	s.mu.RLock()
	b, ok := s.buffers[subjectID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[subjectID]; !ok {
		b = &buffer{
			labels:   make([]emotion.Label, 0, s.cfg.size()),
			lastSeen: s.now(),
		}
		s.buffers[subjectID] = b
	}
	return b
}

func (s *MemoryStore) Push(ctx context.Context, subjectID string, label emotion.Label) (emotion.Label, error) {
	if subjectID == "" {
		return "", ErrEmptySubject
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var b *buffer
	for {
		b = s.get(subjectID)
		b.mu.Lock()
		if !b.removed {
			break
		}
		b.mu.Unlock()
	}
	defer b.mu.Unlock()

	b.labels = append(b.labels, label)
	if over := len(b.labels) - s.cfg.size(); over > 0 {
		b.labels = append(b.labels[:0], b.labels[over:]...)
	}
	b.lastSeen = s.now()
	return Majority(b.labels), nil
}

func (s *MemoryStore) History(ctx context.Context, subjectID string) ([]emotion.Label, error) {
	s.mu.RLock()
	b, ok := s.buffers[subjectID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]emotion.Label, len(b.labels))
	copy(out, b.labels)
	return out, nil
}

func (s *MemoryStore) Forget(ctx context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[subjectID]; ok {
		b.mu.Lock()
		b.removed = true
		b.mu.Unlock()
		delete(s.buffers, subjectID)
	}
	return nil
}

// Len 当前跟踪的学生数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers)
}

// Sweep 清理超过 IdleTTL 未更新的学生，返回清理数量
func (s *MemoryStore) Sweep() int {
	if s.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.IdleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, b := range s.buffers {
		b.mu.Lock()
		idle := b.lastSeen.Before(cutoff)
		if idle {
			b.removed = true
		}
		b.mu.Unlock()
		if idle {
			delete(s.buffers, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) janitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("evicted idle smoothing buffers", zap.Int("count", n))
			}
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	return nil
}
