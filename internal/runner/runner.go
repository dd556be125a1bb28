// Package runner 按顺序执行声明式浏览器步骤
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdpqa/internal/logger"
	"cdpqa/internal/pageops"
	"cdpqa/internal/session"
	"cdpqa/pkg/model"
	"cdpqa/pkg/traffic"
)

const (
	DefaultStepTimeout     = 5 * time.Second
	DefaultArtifactTimeout = 5 * time.Second
)

// 步骤别名
var actionAliases = map[string]string{
	"assert_select_options":    model.ActionAssertSelectOptions,
	"assert_select_selectable": model.ActionAssertSelectSelectable,
}

// Options 执行器参数
type Options struct {
	BaseURL         string
	StepTimeout     time.Duration // 等待类步骤未指定 timeoutMs 时使用
	ArtifactTimeout time.Duration // 截图与 DOM 快照的独立超时
	Sessions        *session.Manager
	Logger          logger.Logger
}

// RunSpec 一次浏览器运行的输入
type RunSpec struct {
	RunID              model.RunID
	TestID             model.TestCaseID
	PageURL            string
	Steps              []model.Step
	StopOnFirstFailure bool
}

// Runner 步骤执行器
type Runner struct {
	factory BrowserFactory
	opts    Options
	log     logger.Logger
}

// New 创建执行器
func New(factory BrowserFactory, opts Options) *Runner {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.ArtifactTimeout <= 0 {
		opts.ArtifactTimeout = DefaultArtifactTimeout
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Runner{factory: factory, opts: opts, log: opts.Logger}
}

// Sessions 存活运行登记表
func (r *Runner) Sessions() *session.Manager { return r.opts.Sessions }

// Run 执行全部步骤并返回完整记录；不返回错误，失败体现在记录中。
// 浏览器在所有退出路径上都会被关闭，截图与快照在关闭前采集。
func (r *Runner) Run(ctx context.Context, spec RunSpec) model.BrowserLog {
	start := time.Now()
	out := model.BrowserLog{
		Type:            "cdp",
		Action:          "browser_run",
		URL:             traffic.ResolveURL(r.opts.BaseURL, spec.PageURL),
		Steps:           []model.StepResult{},
		ConsoleMessages: []model.ConsoleMessage{},
		NetworkRequests: []model.NetworkRequest{},
	}
	log := r.log.With("runID", string(spec.RunID), "testID", string(spec.TestID))

	sess := r.opts.Sessions.Create(spec.RunID, spec.TestID)
	defer r.opts.Sessions.Delete(spec.RunID)

	b, err := r.factory.Open(ctx)
	if err != nil {
		log.Err(err, "浏览器启动失败")
		out.Status = model.StatusFailed
		out.Error = "browser launch failed: " + err.Error()
		out.TotalDurationMS = time.Since(start).Milliseconds()
		return out
	}
	defer func() {
		sess.SetPhase(session.PhaseClosing)
		if err := b.Close(); err != nil {
			log.Warn("关闭浏览器出错", "error", err)
		}
	}()
	sess.Attach(b.PID(), b.Port())
	log.Info("浏览器运行开始", "pid", b.PID(), "port", b.Port(), "steps", len(spec.Steps))

	page := b.Page()
	skipReason := ""
	for i, st := range spec.Steps {
		sess.SetStep(i)
		if skipReason != "" {
			out.Steps = append(out.Steps, model.StepResult{
				Action: st.Action, Selector: st.Selector, URL: st.URL,
				Status: model.StepSkipped, Message: skipReason,
			})
			continue
		}
		res := r.execStep(ctx, page, spec, st)
		out.Steps = append(out.Steps, res)
		log.Debug("步骤完成", "index", i, "action", st.Action, "status", string(res.Status), "durationMs", res.DurationMS)

		switch {
		case ctx.Err() != nil:
			skipReason = "skipped: run cancelled (" + ctx.Err().Error() + ")"
		case res.Status == model.StepFailed && spec.StopOnFirstFailure:
			skipReason = "skipped after earlier failure (stopOnFirstFailure)"
		}
	}

	// 运行上下文可能已超时，产物采集使用独立的短超时
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.ArtifactTimeout)
	defer cancel()
	if shot := page.CaptureScreenshot(actx); shot != "" {
		out.Screenshot = &shot
	}
	out.DOMSnapshot = page.DOMSnapshot(actx)
	if c := b.Console(); c != nil {
		out.ConsoleMessages = c
	}
	if n := b.Network(); n != nil {
		out.NetworkRequests = n
	}

	out.Status = model.StatusPassed
	for _, s := range out.Steps {
		if s.Status == model.StepFailed {
			out.Status = model.StatusFailed
			if out.Error == "" {
				out.Error = fmt.Sprintf("step %s failed: %s", s.Action, s.Error)
			}
		}
	}
	out.TotalDurationMS = time.Since(start).Milliseconds()
	log.Info("浏览器运行结束", "status", string(out.Status), "durationMs", out.TotalDurationMS)
	return out
}

func normalizeAction(a string) string {
	if v, ok := actionAliases[a]; ok {
		return v
	}
	return a
}

func (r *Runner) execStep(ctx context.Context, page Page, spec RunSpec, st model.Step) model.StepResult {
	start := time.Now()
	res := model.StepResult{Action: st.Action, Selector: st.Selector, URL: st.URL}
	timeout := r.opts.StepTimeout
	if st.TimeoutMS > 0 {
		timeout = time.Duration(st.TimeoutMS) * time.Millisecond
	}

	var err error
	action := normalizeAction(st.Action)
	switch action {
	case model.ActionGoto:
		ref := st.URL
		if ref == "" {
			ref = spec.PageURL
		}
		if ref == "" {
			ref = "/"
		}
		res.URL = traffic.ResolveURL(r.opts.BaseURL, ref)
		err = page.Navigate(ctx, res.URL)
	case model.ActionWaitForNavigation:
		pattern := st.ExpectedURL
		if pattern == "" {
			pattern = st.URL
		}
		res.MatchedURL, err = page.WaitForNavigation(ctx, pattern, timeout)
	case model.ActionFocus, model.ActionWaitForSelector, model.ActionFillInput, model.ActionClick,
		model.ActionAssertSelectOptions, model.ActionAssertSelectSelectable:
		if st.Selector == "" {
			err = errors.New("selector is required")
			break
		}
		err = r.execSelectorStep(ctx, page, action, st, timeout, &res)
	default:
		res.Status = model.StepSkipped
		res.Message = "unknown action: " + st.Action
		return res
	}

	res.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = model.StepFailed
		res.Error = err.Error()
		return res
	}
	res.Status = model.StepSuccess
	return res
}

func (r *Runner) execSelectorStep(ctx context.Context, page Page, action string, st model.Step, timeout time.Duration, res *model.StepResult) error {
	switch action {
	case model.ActionFocus:
		return page.Focus(ctx, st.Selector)
	case model.ActionWaitForSelector:
		_, err := page.WaitForSelector(ctx, st.Selector, timeout)
		found := err == nil
		res.Found = &found
		return err
	case model.ActionFillInput:
		return page.SetInputValue(ctx, st.Selector, st.Value)
	case model.ActionClick:
		return page.Click(ctx, st.Selector)
	case model.ActionAssertSelectOptions:
		sr, err := page.AssertSelectOptions(ctx, st.Selector, st.Expected)
		return selectOutcome(sr, err, res)
	case model.ActionAssertSelectSelectable:
		sr, err := page.AssertSelectSelectable(ctx, st.Selector)
		return selectOutcome(sr, err, res)
	}
	return fmt.Errorf("unsupported action %s", action)
}

func selectOutcome(sr pageops.SelectResult, err error, res *model.StepResult) error {
	if err != nil {
		return err
	}
	res.Message = sr.Message
	res.Missing = sr.Missing
	res.Extra = sr.Extra
	if !sr.Pass {
		return errors.New(sr.Message)
	}
	return nil
}
