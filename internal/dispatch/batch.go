package dispatch

import (
	"context"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"cdpqa/internal/config"
	"cdpqa/pkg/model"
)

// BatchOptions 批量执行参数
type BatchOptions struct {
	Concurrency int
	// OnStart / OnResult 在执行协程中调用，需自行保证并发安全
	OnStart  func(tc model.TestCase)
	OnResult func(tc model.TestCase, res model.TestRunResult)
}

// ExecuteAll 以有限并发执行用例；ctx 取消后不再启动新用例，已启动的用例照常收尾
func (d *Dispatcher) ExecuteAll(ctx context.Context, cases []model.TestCase, opts BatchOptions) model.BatchSummary {
	concurrency := config.ClampConcurrency(opts.Concurrency)
	sum := model.BatchSummary{
		Mode:        "parallel",
		Concurrency: concurrency,
		Total:       len(cases),
		StartedAt:   time.Now(),
	}
	details := make([]*model.BatchDetail, len(cases))
	d.log.Info("开始批量执行", "total", len(cases), "concurrency", concurrency)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, tc := range cases {
		if ctx.Err() != nil {
			break
		}
		i, tc := i, tc
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if opts.OnStart != nil {
				opts.OnStart(tc)
			}
			started := time.Now()
			res := d.Execute(ctx, tc)
			ended := time.Now()
			details[i] = &model.BatchDetail{
				TestID:        tc.TestID,
				Title:         tc.Title,
				Status:        res.Status,
				ExecutionTime: ended.Sub(started).Round(time.Millisecond).String(),
				StartedAt:     started,
				EndedAt:       ended,
				Error:         res.FirstError(),
			}
			if opts.OnResult != nil {
				opts.OnResult(tc, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum.Details = lo.Map(lo.Compact(details), func(p *model.BatchDetail, _ int) model.BatchDetail { return *p })
	counts := lo.CountValuesBy(sum.Details, func(p model.BatchDetail) model.Status { return p.Status })
	sum.Executed = len(sum.Details)
	sum.Passed = counts[model.StatusPassed]
	sum.Failed = counts[model.StatusFailed]
	sum.Errored = counts[model.StatusError]
	sum.EndedAt = time.Now()
	sum.DurationMS = sum.EndedAt.Sub(sum.StartedAt).Milliseconds()
	d.log.Info("批量执行结束", "executed", sum.Executed, "passed", sum.Passed, "failed", sum.Failed, "errored", sum.Errored)
	return sum
}
