// Package store keeps a history of evaluation runs in a SQL database.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/ncruces/go-sqlite3/gormlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/spachava753/deployeval/internal/models"
)

// SQLitePrefix marks a results_db value as a SQLite file path.
const SQLitePrefix = "sqlite:"

// Run is one orchestrator run.
type Run struct {
	ID            string `gorm:"primaryKey"`
	ModelName     string
	Cancelled     bool
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	TimedOutJobs  int
	SkippedJobs   int
	StartedAt     time.Time
	EndedAt       time.Time

	Jobs    []Job    `gorm:"foreignKey:RunID"`
	Metrics []Metric `gorm:"foreignKey:RunID"`
}

// Job is the outcome of one (task, checkpoint) evaluation.
type Job struct {
	ID              uint   `gorm:"primaryKey"`
	RunID           string `gorm:"index"`
	Task            string `gorm:"index"`
	Checkpoint      string
	ModelID         string
	Owned           bool
	FinalState      string
	ErrorType       string
	ErrorMessage    string
	TeardownFailed  bool
	DurationSeconds float64
}

// Metric is one metrics table row.
type Metric struct {
	ID                   uint   `gorm:"primaryKey"`
	RunID                string `gorm:"index"`
	Task                 string `gorm:"index"`
	Category             string
	Checkpoint           string
	Count                int
	Accuracy             *float64
	MeanAbsoluteError    *float64
	MeanAbsoluteErrorStd *float64
	MeanSquaredError     *float64
	MeanSquaredErrorStd  *float64
}

// Store writes run history through gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema. dsn is either
// "sqlite:<path>" or a postgres:// URL.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, SQLitePrefix):
		dialector = gormlite.Open(strings.TrimPrefix(dsn, SQLitePrefix))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported results_db %q: want sqlite:<path> or a postgres:// URL", dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&Run{}, &Job{}, &Metric{}); err != nil {
		return nil, fmt.Errorf("migrating results database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordRun stores a run, its jobs and every task's metrics in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, run *models.RunResult, jobs []*models.JobResult) error {
	rec := Run{
		ID:            run.RunID,
		ModelName:     run.ModelName,
		Cancelled:     run.Cancelled,
		TotalJobs:     run.TotalJobs,
		CompletedJobs: run.CompletedJobs,
		FailedJobs:    run.FailedJobs,
		TimedOutJobs:  run.TimedOutJobs,
		SkippedJobs:   run.SkippedJobs,
		StartedAt:     run.StartedAt,
		EndedAt:       run.EndedAt,
	}

	for _, j := range jobs {
		job := Job{
			Task:            j.Task,
			Checkpoint:      j.Checkpoint,
			ModelID:         string(j.ModelID),
			Owned:           j.Owned,
			FinalState:      string(j.FinalState),
			TeardownFailed:  j.TeardownError != nil,
			DurationSeconds: j.Durations.TotalSec,
		}
		if j.Error != nil {
			job.ErrorType = string(j.Error.Type)
			job.ErrorMessage = j.Error.Message
		}
		rec.Jobs = append(rec.Jobs, job)
	}

	for task, summary := range run.Tasks {
		for _, m := range summary.Metrics {
			rec.Metrics = append(rec.Metrics, Metric{
				Task:                 task,
				Category:             m.Category,
				Checkpoint:           m.Checkpoint,
				Count:                m.Count,
				Accuracy:             finite(&m.Accuracy),
				MeanAbsoluteError:    finite(m.MAE),
				MeanAbsoluteErrorStd: finite(m.MAEStd),
				MeanSquaredError:     finite(m.MSE),
				MeanSquaredErrorStd:  finite(m.MSEStd),
			})
		}
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

// GetRun loads a run with its jobs and metrics.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Preload("Jobs").
		Preload("Metrics", func(db *gorm.DB) *gorm.DB {
			return db.Order("task, category, checkpoint")
		}).
		First(&run, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &run, nil
}

// finite copies v, mapping NaN to NULL.
func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) {
		return nil
	}
	out := *v
	return &out
}
