// Package dispatch 选择执行路径并保证每个用例都得到结构化结果
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"cdpqa/internal/ctxkeys"
	"cdpqa/internal/httpcheck"
	"cdpqa/internal/logger"
	"cdpqa/internal/runner"
	"cdpqa/pkg/model"
)

const (
	DefaultTestTimeout  = 60 * time.Second
	DefaultCleanupGrace = 10 * time.Second
)

const noInstructions = "no executable instructions: test case has no browserSteps, pageUrl or httpRequests"

// BrowserRunner 浏览器执行路径
type BrowserRunner interface {
	Run(ctx context.Context, spec runner.RunSpec) model.BrowserLog
}

// HTTPRunner HTTP 执行路径
type HTTPRunner interface {
	Run(ctx context.Context, steps []model.HTTPStep, stopOnFirstFailure bool) httpcheck.Result
}

// Options 分发参数
type Options struct {
	TestTimeout time.Duration
	// CleanupGrace 超时后等待执行协程完成资源回收的上限
	CleanupGrace time.Duration
	Logger       logger.Logger
}

// Dispatcher 测试分发门面
type Dispatcher struct {
	browser BrowserRunner
	http    HTTPRunner
	opts    Options
	log     logger.Logger
}

// New 创建分发器
func New(browser BrowserRunner, http HTTPRunner, opts Options) *Dispatcher {
	if opts.TestTimeout <= 0 {
		opts.TestTimeout = DefaultTestTimeout
	}
	if opts.CleanupGrace <= 0 {
		opts.CleanupGrace = DefaultCleanupGrace
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Dispatcher{browser: browser, http: http, opts: opts, log: opts.Logger}
}

// Execute 执行一个用例，始终返回结果，不会 panic
func (d *Dispatcher) Execute(ctx context.Context, tc model.TestCase) model.TestRunResult {
	start := time.Now()
	runID := model.RunID(uuid.NewString())
	ctx = ctxkeys.WithTraceID(ctx, string(runID))
	log := d.log.With("runID", string(runID), "testID", string(tc.TestID))

	tctx, cancel := context.WithTimeout(ctx, d.opts.TestTimeout)
	defer cancel()

	done := make(chan model.TestRunResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("执行过程发生 panic", "panic", r, "stack", string(debug.Stack()))
				done <- failure(model.StatusError, fmt.Sprintf("internal error: %v", r))
			}
		}()
		done <- d.dispatch(tctx, tc, runID)
	}()

	var res model.TestRunResult
	select {
	case res = <-done:
	case <-tctx.Done():
		msg := fmt.Sprintf("test execution timed out after %s", d.opts.TestTimeout)
		if ctx.Err() != nil {
			msg = "test execution cancelled: " + ctx.Err().Error()
		}
		log.Warn("用例执行超时或被取消", "error", tctx.Err())
		// 等待执行协程关闭浏览器，避免残留进程
		select {
		case <-done:
		case <-time.After(d.opts.CleanupGrace):
			log.Error("超时后资源回收未在限期内完成", "grace", d.opts.CleanupGrace)
		}
		res = failure(model.StatusError, msg)
	}
	res.RunID = runID
	res.Duration = time.Since(start).Milliseconds()
	log.Info("用例执行完成", "status", string(res.Status), "durationMs", res.Duration)
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, tc model.TestCase, runID model.RunID) model.TestRunResult {
	md := tc.Metadata
	switch {
	case len(md.BrowserSteps) > 0:
		blog := d.browser.Run(ctx, runner.RunSpec{
			RunID: runID, TestID: tc.TestID, PageURL: tc.PageURL,
			Steps: md.BrowserSteps, StopOnFirstFailure: md.StopOnFirstFailure,
		})
		return fromBrowser(blog)
	case tc.PageURL != "":
		blog := d.browser.Run(ctx, runner.RunSpec{
			RunID: runID, TestID: tc.TestID, PageURL: tc.PageURL,
			Steps:              SynthesizedSteps(tc.PageURL),
			StopOnFirstFailure: true,
		})
		res := fromBrowser(blog)
		res.Logs = append([]model.LogEntry{model.NewInfoLog("no browser steps, synthesized navigation check for " + tc.PageURL)}, res.Logs...)
		return res
	case len(md.HTTPRequests) > 0:
		hr := d.http.Run(ctx, md.HTTPRequests, md.StopOnFirstFailure)
		res := model.TestRunResult{Status: hr.Status, Errors: []model.ErrorInfo{}, Logs: make([]model.LogEntry, 0, len(hr.Logs))}
		for _, l := range hr.Logs {
			res.Logs = append(res.Logs, l)
		}
		if hr.FirstError != "" {
			res.Errors = append(res.Errors, model.ErrorInfo{Message: hr.FirstError})
		}
		return res
	default:
		return failure(model.StatusFailed, noInstructions)
	}
}

// SynthesizedSteps 只有页面地址时的最小浏览器检查
func SynthesizedSteps(pageURL string) []model.Step {
	return []model.Step{
		{Action: model.ActionGoto, URL: pageURL},
		{Action: model.ActionWaitForSelector, Selector: "body"},
	}
}

func fromBrowser(blog model.BrowserLog) model.TestRunResult {
	res := model.TestRunResult{Status: blog.Status, Errors: []model.ErrorInfo{}, Logs: []model.LogEntry{blog}}
	if blog.Error != "" {
		res.Errors = append(res.Errors, model.ErrorInfo{Message: blog.Error})
	}
	return res
}

func failure(status model.Status, msg string) model.TestRunResult {
	return model.TestRunResult{
		Status: status,
		Errors: []model.ErrorInfo{{Message: msg}},
		Logs:   []model.LogEntry{model.NewInfoLog(msg)},
	}
}
