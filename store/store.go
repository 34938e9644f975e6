// Package store 识别事件日志与班级汇总，基于 PostgreSQL
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/TIANLI0/MoodLens/config"
	"github.com/TIANLI0/MoodLens/model"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// ErrDisabled 未配置数据库
var ErrDisabled = errors.New("event store disabled")

const schema = `
CREATE TABLE IF NOT EXISTS emotion_events (
	id          BIGSERIAL PRIMARY KEY,
	student_id  TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	class_id    TEXT NOT NULL DEFAULT '',
	emotion     TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	engagement  INTEGER NOT NULL,
	source      TEXT,
	warning     TEXT,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS emotion_events_class_idx ON emotion_events (class_id, student_id);`

// Store 事件存储
type Store interface {
	Record(ctx context.Context, result *model.AnalyzeResult) error
	Summary(ctx context.Context, classID string) (*model.ClassSummary, error)
	Close() error
}

type event struct {
	StudentID  string    `db:"student_id"`
	Name       string    `db:"name"`
	ClassID    string    `db:"class_id"`
	Emotion    string    `db:"emotion"`
	Confidence float64   `db:"confidence"`
	Engagement int       `db:"engagement"`
	Source     *string   `db:"source"`
	Warning    *string   `db:"warning"`
	CreatedAt  time.Time `db:"created_at"`
}

type subjectRow struct {
	StudentID     string    `db:"student_id"`
	Name          string    `db:"name"`
	Samples       int       `db:"samples"`
	AvgEngagement float64   `db:"avg_engagement"`
	LastSeen      time.Time `db:"last_seen"`
}

type countRow struct {
	StudentID string `db:"student_id"`
	Emotion   string `db:"emotion"`
	N         int    `db:"n"`
}

// EventStore PostgreSQL 实现
type EventStore struct {
	db *sqlx.DB
}

// Open 连接数据库并建表
func Open(ctx context.Context, cfg config.StoreConfig) (*EventStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

// Migrate 建表
func (s *EventStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record 追加一条识别事件
func (s *EventStore) Record(ctx context.Context, result *model.AnalyzeResult) error {
	ev := event{
		StudentID:  result.StudentID,
		Name:       result.Name,
		ClassID:    result.ClassID,
		Emotion:    result.Emotion,
		Confidence: result.Confidence,
		Engagement: result.Engagement,
		Source:     result.Source,
		Warning:    result.Warning,
		CreatedAt:  time.UnixMilli(result.Timestamp).UTC(),
	}

	query := `INSERT INTO emotion_events
				(student_id, name, class_id, emotion, confidence, engagement, source, warning, created_at)
			VALUES
				(:student_id, :name, :class_id, :emotion, :confidence, :engagement, :source, :warning, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, ev); err != nil {
		return fmt.Errorf("failed to insert emotion event: %w", err)
	}
	return nil
}

// Summary 班级内每个学生的样本数、平均专注度、主要情绪
func (s *EventStore) Summary(ctx context.Context, classID string) (*model.ClassSummary, error) {
	var subjects []subjectRow
	query := `SELECT
				student_id,
				MAX(name) AS name,
				COUNT(*) AS samples,
				AVG(engagement)::float8 AS avg_engagement,
				MAX(created_at) AS last_seen
			FROM emotion_events
			WHERE class_id=$1
			GROUP BY student_id
			ORDER BY student_id`
	if err := s.db.SelectContext(ctx, &subjects, query, classID); err != nil {
		return nil, fmt.Errorf("failed to query class summary: %w", err)
	}

	var counts []countRow
	query = `SELECT student_id, emotion, COUNT(*) AS n
			FROM emotion_events
			WHERE class_id=$1
			GROUP BY student_id, emotion`
	if err := s.db.SelectContext(ctx, &counts, query, classID); err != nil {
		return nil, fmt.Errorf("failed to query emotion counts: %w", err)
	}

	return buildSummary(classID, subjects, counts), nil
}

func (s *EventStore) Close() error {
	return s.db.Close()
}

func buildSummary(classID string, subjects []subjectRow, counts []countRow) *model.ClassSummary {
	byStudent := make(map[string]map[string]int, len(subjects))
	for _, c := range counts {
		m, ok := byStudent[c.StudentID]
		if !ok {
			m = make(map[string]int)
			byStudent[c.StudentID] = m
		}
		m[c.Emotion] += c.N
	}

	summary := &model.ClassSummary{
		ClassID:  classID,
		Subjects: make([]model.SubjectSummary, 0, len(subjects)),
	}
	for _, row := range subjects {
		c := byStudent[row.StudentID]
		if c == nil {
			c = map[string]int{}
		}
		summary.Subjects = append(summary.Subjects, model.SubjectSummary{
			StudentID:       row.StudentID,
			Name:            row.Name,
			Samples:         row.Samples,
			AvgEngagement:   math.Round(row.AvgEngagement*100) / 100,
			DominantEmotion: dominant(c),
			Counts:          c,
			LastSeen:        row.LastSeen.UnixMilli(),
		})
	}
	return summary
}

// dominant 次数最多的情绪，次数相同取字典序最小
func dominant(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := ""
	for _, k := range keys {
		if best == "" || counts[k] > counts[best] {
			best = k
		}
	}
	return best
}

// NopStore 未配置数据库时使用
type NopStore struct{}

func (NopStore) Record(context.Context, *model.AnalyzeResult) error { return nil }

func (NopStore) Summary(context.Context, string) (*model.ClassSummary, error) {
	return nil, ErrDisabled
}

func (NopStore) Close() error { return nil }
