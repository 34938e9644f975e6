package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/TIANLI0/MoodLens/model"
	"github.com/jmoiron/sqlx"
)

func newMock(t *testing.T) (*EventStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mockSQL, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "pgx")), mockSQL
}

func TestEventStore_Migrate(t *testing.T) {
	s, mockSQL := newMock(t)
	mockSQL.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS emotion_events")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mockSQL.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEventStore_Record(t *testing.T) {
	source := "fast"
	result := &model.AnalyzeResult{
		StudentID:  "stu-1",
		Name:       "Ana",
		ClassID:    "c-7",
		Emotion:    "happy",
		Confidence: 60,
		Engagement: 86,
		Source:     &source,
		Timestamp:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli(),
	}

	tests := []struct {
		name       string
		beforeTest func(sqlmock.Sqlmock)
		wantErr    bool
	}{
		{
			name: "success",
			beforeTest: func(mockSQL sqlmock.Sqlmock) {
				mockSQL.ExpectExec(regexp.QuoteMeta("INSERT INTO emotion_events")).
					WithArgs("stu-1", "Ana", "c-7", "happy", 60.0, 86, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "db error",
			beforeTest: func(mockSQL sqlmock.Sqlmock) {
				mockSQL.ExpectExec(regexp.QuoteMeta("INSERT INTO emotion_events")).
					WillReturnError(errors.New("whoops, error"))
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mockSQL := newMock(t)
			tt.beforeTest(mockSQL)

			err := s.Record(context.Background(), result)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Record() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mockSQL.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestEventStore_Summary(t *testing.T) {
	s, mockSQL := newMock(t)
	seen := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	mockSQL.ExpectQuery(regexp.QuoteMeta("MAX(name) AS name")).
		WithArgs("c-7").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "name", "samples", "avg_engagement", "last_seen"}).
			AddRow("stu-1", "Ana", 3, 71.666666, seen).
			AddRow("stu-2", "Ben", 2, 40.0, seen))
	mockSQL.ExpectQuery(regexp.QuoteMeta("GROUP BY student_id, emotion")).
		WithArgs("c-7").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "emotion", "n"}).
			AddRow("stu-1", "happy", 2).
			AddRow("stu-1", "sad", 1).
			AddRow("stu-2", "sad", 1).
			AddRow("stu-2", "angry", 1))

	summary, err := s.Summary(context.Background(), "c-7")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if err := mockSQL.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}

	if summary.ClassID != "c-7" || len(summary.Subjects) != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	ana := summary.Subjects[0]
	if ana.Samples != 3 || ana.AvgEngagement != 71.67 || ana.DominantEmotion != "happy" {
		t.Errorf("ana = %+v", ana)
	}
	if ana.Counts["happy"] != 2 || ana.Counts["sad"] != 1 {
		t.Errorf("ana counts = %v", ana.Counts)
	}
	if ana.LastSeen != seen.UnixMilli() {
		t.Errorf("last seen = %d", ana.LastSeen)
	}
	if ben := summary.Subjects[1]; ben.DominantEmotion != "angry" {
		t.Errorf("tie should resolve to lexicographically smallest, got %q", ben.DominantEmotion)
	}
}

func TestEventStore_SummaryError(t *testing.T) {
	s, mockSQL := newMock(t)
	mockSQL.ExpectQuery(regexp.QuoteMeta("MAX(name) AS name")).
		WillReturnError(errors.New("whoops, error"))

	if _, err := s.Summary(context.Background(), "c-7"); err == nil {
		t.Error("expected error")
	}
}

func TestDominant(t *testing.T) {
	tests := []struct {
		in   map[string]int
		want string
	}{
		{map[string]int{}, ""},
		{map[string]int{"sad": 3, "happy": 1}, "sad"},
		{map[string]int{"neutral": 2, "fear": 2}, "fear"},
	}
	for _, tt := range tests {
		if got := dominant(tt.in); got != tt.want {
			t.Errorf("dominant(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNopStore(t *testing.T) {
	var s Store = NopStore{}
	if err := s.Record(context.Background(), &model.AnalyzeResult{}); err != nil {
		t.Errorf("Record: %v", err)
	}
	if _, err := s.Summary(context.Background(), "c"); !errors.Is(err, ErrDisabled) {
		t.Errorf("Summary err = %v, want ErrDisabled", err)
	}
}
