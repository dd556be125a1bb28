package api

import (
	"context"

	"cdpqa/internal/config"
	"cdpqa/internal/logger"
	"cdpqa/internal/service"
	"cdpqa/internal/storage"
	"cdpqa/pkg/model"
)

// Service 服务接口
type Service interface {
	// ImportTestCases 导入用例，返回用例 ID
	ImportTestCases(ctx context.Context, cases []model.TestCase) ([]model.TestCaseID, error)

	// RunTestCase 直接执行一个用例，不落库
	RunTestCase(ctx context.Context, tc model.TestCase) model.TestRunResult

	// ExecuteTest 执行已存储的用例并保存结果
	ExecuteTest(ctx context.Context, id model.TestCaseID) (model.TestRunResult, error)

	// ExecuteAll 批量执行待执行用例
	ExecuteAll(ctx context.Context, concurrency int) (model.BatchSummary, error)

	// Results 查询历史结果
	Results(ctx context.Context, id model.TestCaseID, limit int) ([]model.StoredResult, error)

	// Stats 查询用例状态与执行次数
	Stats(ctx context.Context, id model.TestCaseID) (storage.Stats, error)

	// Close 释放资源
	Close() error
}

// NewService 按配置创建服务实现
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	s, err := service.NewFromConfig(cfg, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var _ Service = (*service.Service)(nil)
