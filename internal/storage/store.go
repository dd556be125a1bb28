// Package storage 测试用例与执行结果的持久化
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	applog "cdpqa/internal/logger"
	"cdpqa/pkg/model"
)

// ErrNotFound 用例不存在
var ErrNotFound = errors.New("test case not found")

// TestCase 用例表 <prefix>test_cases
type TestCase struct {
	ID             uint           `gorm:"primaryKey"`
	TestID         string         `gorm:"size:64;uniqueIndex;not null"`
	Title          string         `gorm:"size:255"`
	PageURL        string         `gorm:"size:1024"`
	Priority       int            `gorm:"index"`
	Metadata       model.Metadata `gorm:"serializer:json"`
	Status         model.Status   `gorm:"size:16;index;default:pending"`
	ExecutionCount int
	LastExecuted   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TestResult 结果表 <prefix>test_results
type TestResult struct {
	ID         uint              `gorm:"primaryKey"`
	RunID      string            `gorm:"size:64;uniqueIndex;not null"`
	TestCaseID string            `gorm:"size:64;index;not null"`
	Status     model.Status      `gorm:"size:16"`
	DurationMS int64             `gorm:"column:duration_ms"`
	Errors     []model.ErrorInfo `gorm:"serializer:json"`
	Logs       []byte
	CreatedAt  time.Time
}

func (c TestCase) toModel() model.TestCase {
	return model.TestCase{
		TestID:   model.TestCaseID(c.TestID),
		Title:    c.Title,
		PageURL:  c.PageURL,
		Priority: c.Priority,
		Metadata: c.Metadata,
	}
}

// Options 数据库参数
type Options struct {
	Dsn    string
	Prefix string
	Logger applog.Logger
}

// Store 用例与结果仓库
type Store struct {
	db *gorm.DB
}

// Open 打开 SQLite 并迁移表结构
func Open(opts Options) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(opts.Dsn), &gorm.Config{
		Logger:         NewGormLogger(opts.Logger),
		NamingStrategy: schema.NamingStrategy{TablePrefix: opts.Prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Dsn, err)
	}
	if err := db.AutoMigrate(&TestCase{}, &TestResult{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTestCases 按 TestID 写入或更新用例，缺失的 TestID 自动生成；返回生成/使用的 ID
func (s *Store) SaveTestCases(ctx context.Context, cases []model.TestCase) ([]model.TestCaseID, error) {
	if len(cases) == 0 {
		return nil, nil
	}
	rows := make([]TestCase, len(cases))
	ids := make([]model.TestCaseID, len(cases))
	for i, tc := range cases {
		if tc.TestID == "" {
			tc.TestID = model.TestCaseID(uuid.NewString())
		}
		ids[i] = tc.TestID
		rows[i] = TestCase{
			TestID: string(tc.TestID), Title: tc.Title, PageURL: tc.PageURL,
			Priority: tc.Priority, Metadata: tc.Metadata, Status: model.StatusPending,
		}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "test_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "page_url", "priority", "metadata", "status", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetTestCase 读取单个用例
func (s *Store) GetTestCase(ctx context.Context, id model.TestCaseID) (model.TestCase, error) {
	var row TestCase
	err := s.db.WithContext(ctx).Where("test_id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.TestCase{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return model.TestCase{}, err
	}
	return row.toModel(), nil
}

// ListRunnable 状态为 pending / running 的用例，优先级高的在前
func (s *Store) ListRunnable(ctx context.Context) ([]model.TestCase, error) {
	var rows []TestCase
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.Status{model.StatusPending, model.StatusRunning}).
		Order("priority DESC").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.TestCase, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// SetStatus 更新用例状态
func (s *Store) SetStatus(ctx context.Context, id model.TestCaseID, status model.Status) error {
	return s.db.WithContext(ctx).Model(&TestCase{}).
		Where("test_id = ?", string(id)).
		Update("status", status).Error
}

// SaveResult 写入结果并更新用例状态、执行次数与最后执行时间
func (s *Store) SaveResult(ctx context.Context, id model.TestCaseID, res model.TestRunResult) error {
	logs, err := json.Marshal(res.Logs)
	if err != nil {
		return fmt.Errorf("encode logs: %w", err)
	}
	runID := string(res.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	now := time.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&TestResult{
			RunID: runID, TestCaseID: string(id), Status: res.Status,
			DurationMS: res.Duration, Errors: res.Errors, Logs: logs,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&TestCase{}).Where("test_id = ?", string(id)).Updates(map[string]any{
			"status":          res.Status,
			"execution_count": gorm.Expr("execution_count + ?", 1),
			"last_executed":   now,
		}).Error
	})
}

// Results 按时间倒序返回用例的执行结果，limit<=0 不限制
func (s *Store) Results(ctx context.Context, id model.TestCaseID, limit int) ([]model.StoredResult, error) {
	q := s.db.WithContext(ctx).Where("test_case_id = ?", string(id)).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []TestResult
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.StoredResult, len(rows))
	for i, r := range rows {
		out[i] = model.StoredResult{
			RunID: model.RunID(r.RunID), TestID: model.TestCaseID(r.TestCaseID), Status: r.Status,
			DurationMS: r.DurationMS, Errors: r.Errors, Logs: json.RawMessage(r.Logs), CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Stats 用例执行统计
type Stats struct {
	TestID         model.TestCaseID `json:"testId"`
	Status         model.Status     `json:"status"`
	ExecutionCount int              `json:"executionCount"`
	LastExecuted   *time.Time       `json:"lastExecuted,omitempty"`
}

// Stats 读取用例的状态与执行次数
func (s *Store) Stats(ctx context.Context, id model.TestCaseID) (Stats, error) {
	var row TestCase
	err := s.db.WithContext(ctx).Where("test_id = ?", string(id)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Stats{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Stats{}, err
	}
	return Stats{TestID: id, Status: row.Status, ExecutionCount: row.ExecutionCount, LastExecuted: row.LastExecuted}, nil
}
