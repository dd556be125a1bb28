// Package service 组合存储与分发，提供用例导入、执行与结果查询
package service

import (
	"context"
	"fmt"

	"cdpqa/internal/config"
	"cdpqa/internal/dispatch"
	"cdpqa/internal/httpcheck"
	"cdpqa/internal/launcher"
	"cdpqa/internal/logger"
	"cdpqa/internal/pageops"
	"cdpqa/internal/runner"
	"cdpqa/internal/session"
	"cdpqa/internal/storage"
	"cdpqa/pkg/model"
)

// Executor 单用例与批量执行能力，由 dispatch.Dispatcher 实现
type Executor interface {
	Execute(ctx context.Context, tc model.TestCase) model.TestRunResult
	ExecuteAll(ctx context.Context, cases []model.TestCase, opts dispatch.BatchOptions) model.BatchSummary
}

// Service 服务实现
type Service struct {
	store       *storage.Store
	exec        Executor
	sessions    *session.Manager
	concurrency int
	log         logger.Logger
}

// New 创建服务
func New(store *storage.Store, exec Executor, concurrency int, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{store: store, exec: exec, concurrency: config.ClampConcurrency(concurrency), log: l}
}

// NewFromConfig 按配置装配存储、浏览器工厂、执行器与分发器
func NewFromConfig(cfg *config.Config, l logger.Logger) (*Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	store, err := storage.Open(storage.Options{Dsn: cfg.Sqlite.Dsn, Prefix: cfg.Sqlite.Prefix, Logger: l})
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(l)
	factory := &runner.ChromeFactory{
		Launch: launcher.Options{ExecutablePath: cfg.Browser.ExecutablePath, StartTimeout: cfg.StartTimeout()},
		Page:   pageops.Options{SettleDelay: cfg.SettleDelay()},
		Logger: l,
	}
	br := runner.New(factory, runner.Options{BaseURL: cfg.Runner.BaseURL, Sessions: sessions, Logger: l})
	hc := httpcheck.New(httpcheck.Options{BaseURL: cfg.Runner.BaseURL, Timeout: cfg.HTTPTimeout(), Logger: l})
	disp := dispatch.New(br, hc, dispatch.Options{TestTimeout: cfg.TestTimeout(), Logger: l})

	s := New(store, disp, cfg.Runner.Concurrency, l)
	s.sessions = sessions
	return s, nil
}

// Close 释放存储
func (s *Service) Close() error {
	return s.store.Close()
}

// ActiveRuns 当前存活的浏览器运行
func (s *Service) ActiveRuns() []session.Snapshot {
	if s.sessions == nil {
		return nil
	}
	list := s.sessions.List()
	out := make([]session.Snapshot, len(list))
	for i, r := range list {
		out[i] = r.Snapshot()
	}
	return out
}

// ImportTestCases 导入用例
func (s *Service) ImportTestCases(ctx context.Context, cases []model.TestCase) ([]model.TestCaseID, error) {
	ids, err := s.store.SaveTestCases(ctx, cases)
	if err != nil {
		return nil, fmt.Errorf("import test cases: %w", err)
	}
	s.log.Info("用例已导入", "count", len(ids))
	return ids, nil
}

// RunTestCase 直接执行用例，不落库
func (s *Service) RunTestCase(ctx context.Context, tc model.TestCase) model.TestRunResult {
	return s.exec.Execute(ctx, tc)
}

// ExecuteTest 执行已存储的用例并保存结果
func (s *Service) ExecuteTest(ctx context.Context, id model.TestCaseID) (model.TestRunResult, error) {
	tc, err := s.store.GetTestCase(ctx, id)
	if err != nil {
		return model.TestRunResult{}, err
	}
	if err := s.store.SetStatus(ctx, id, model.StatusRunning); err != nil {
		return model.TestRunResult{}, err
	}
	res := s.exec.Execute(ctx, tc)
	// 运行上下文可能已取消，结果仍需落库
	if err := s.store.SaveResult(context.WithoutCancel(ctx), id, res); err != nil {
		return res, fmt.Errorf("save result: %w", err)
	}
	return res, nil
}

// ExecuteAll 执行所有待执行用例，concurrency<=0 时使用配置值
func (s *Service) ExecuteAll(ctx context.Context, concurrency int) (model.BatchSummary, error) {
	cases, err := s.store.ListRunnable(ctx)
	if err != nil {
		return model.BatchSummary{}, err
	}
	if concurrency <= 0 {
		concurrency = s.concurrency
	}
	for _, tc := range cases {
		if err := s.store.SetStatus(ctx, tc.TestID, model.StatusRunning); err != nil {
			return model.BatchSummary{}, err
		}
	}
	sum := s.exec.ExecuteAll(ctx, cases, dispatch.BatchOptions{
		Concurrency: concurrency,
		OnResult: func(tc model.TestCase, res model.TestRunResult) {
			if err := s.store.SaveResult(context.WithoutCancel(ctx), tc.TestID, res); err != nil {
				s.log.Err(err, "保存执行结果失败", "testID", string(tc.TestID))
			}
		},
	})
	if left := s.ActiveRuns(); len(left) > 0 {
		s.log.Warn("批量执行结束后仍有浏览器未关闭", "count", len(left))
	}
	return sum, nil
}

// Results 查询用例的历史结果
func (s *Service) Results(ctx context.Context, id model.TestCaseID, limit int) ([]model.StoredResult, error) {
	return s.store.Results(ctx, id, limit)
}

// Stats 查询用例的状态与执行次数
func (s *Service) Stats(ctx context.Context, id model.TestCaseID) (storage.Stats, error) {
	return s.store.Stats(ctx, id)
}
