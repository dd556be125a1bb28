// Package pageops 基于单个页面会话的高层页面操作
package pageops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"

	"cdpqa/internal/cdp"
	"cdpqa/internal/logger"
)

const (
	DefaultSettleDelay  = time.Second
	DefaultPollInterval = 50 * time.Millisecond
	DefaultWaitTimeout  = 5 * time.Second
)

// ErrElementNotFound 选择器未匹配到元素
var ErrElementNotFound = errors.New("element not found")

// EvalError 页面脚本抛出异常
type EvalError struct {
	Text        string
	Description string
}

func (e *EvalError) Error() string {
	if e.Description != "" {
		return "evaluate: " + e.Text + ": " + e.Description
	}
	return "evaluate: " + e.Text
}

// TimeoutError 轮询等待超时
type TimeoutError struct {
	What    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s waiting for %s", e.Timeout, e.What)
}

// Options 页面操作参数
type Options struct {
	SettleDelay  time.Duration // 导航后的固定等待，负数表示不等待
	PollInterval time.Duration
	Logger       logger.Logger
}

// Page 包装一个页面会话
type Page struct {
	caller cdp.Caller
	opts   Options
	log    logger.Logger
}

// New 创建页面操作对象
func New(caller cdp.Caller, opts Options) *Page {
	if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Page{caller: caller, opts: opts, log: opts.Logger}
}

// EnableDomains 启用 Page / Runtime / Network 域
func (p *Page) EnableDomains(ctx context.Context) error {
	for _, m := range []string{"Page.enable", "Runtime.enable", "Network.enable"} {
		if err := p.caller.Call(ctx, m, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// Navigate 跳转到 url 并等待固定的稳定时间
func (p *Page) Navigate(ctx context.Context, url string) error {
	var reply page.NavigateReply
	if err := p.caller.Call(ctx, "Page.navigate", page.NewNavigateArgs(url), &reply); err != nil {
		return err
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *reply.ErrorText)
	}
	p.log.Debug("页面已跳转", "url", url)
	if p.opts.SettleDelay < 0 {
		return nil
	}
	return sleep(ctx, p.opts.SettleDelay)
}

// Eval 在页面中执行表达式并按值解码到 out，out 可为 nil
func (p *Page) Eval(ctx context.Context, expr string, out any) error {
	args := runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true)
	var reply runtime.EvaluateReply
	if err := p.caller.Call(ctx, "Runtime.evaluate", args, &reply); err != nil {
		return err
	}
	if d := reply.ExceptionDetails; d != nil {
		ee := &EvalError{Text: d.Text}
		if d.Exception != nil && d.Exception.Description != nil {
			ee.Description = *d.Exception.Description
		}
		return ee
	}
	if out == nil || len(reply.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Result.Value, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// Focus 聚焦元素
func (p *Page) Focus(ctx context.Context, selector string) error {
	return p.onElement(ctx, selector, `el.focus();`)
}

// Click 触发元素的 click
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.onElement(ctx, selector, `el.click();`)
}

// SetInputValue 通过原生 setter 写值并派发 input / change 事件，使框架监听器感知变化
func (p *Page) SetInputValue(ctx context.Context, selector, value string) error {
	body := fmt.Sprintf(`el.focus();
  const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype
    : el instanceof HTMLSelectElement ? HTMLSelectElement.prototype
    : HTMLInputElement.prototype;
  const desc = Object.getOwnPropertyDescriptor(proto, 'value');
  if (desc && desc.set) { desc.set.call(el, %s); } else { el.value = %s; }
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));`, jsString(value), jsString(value))
	return p.onElement(ctx, selector, body)
}

func (p *Page) onElement(ctx context.Context, selector, body string) error {
	expr := fmt.Sprintf(`(function(){
  const el = document.querySelector(%s);
  if (!el) return false;
  %s
  return true;
})()`, jsString(selector), body)
	var found bool
	if err := p.Eval(ctx, expr, &found); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

// WaitForSelector 轮询直到选择器出现，返回等待时长
func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (time.Duration, error) {
	expr := fmt.Sprintf(`!!document.querySelector(%s)`, jsString(selector))
	start := time.Now()
	err := p.poll(ctx, timeout, "selector "+selector, func(pctx context.Context) (bool, error) {
		var ok bool
		err := p.Eval(pctx, expr, &ok)
		return ok, err
	})
	return time.Since(start), err
}

// CurrentURL 读取 location.href
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var href string
	err := p.Eval(ctx, `location.href`, &href)
	return href, err
}

// WaitForNavigation 轮询当前地址直到匹配 pattern，pattern 为空时首次读取成功即返回
func (p *Page) WaitForNavigation(ctx context.Context, pattern string, timeout time.Duration) (string, error) {
	var matcher func(string) bool
	if pattern != "" {
		re, err := GlobToRegexp(pattern)
		if err != nil {
			return "", err
		}
		matcher = func(href string) bool { return matchLocation(re, pattern, href) }
	}
	var last string
	err := p.poll(ctx, timeout, "navigation to "+pattern, func(pctx context.Context) (bool, error) {
		href, err := p.CurrentURL(pctx)
		if err != nil {
			return false, err
		}
		last = href
		return matcher == nil || matcher(href), nil
	})
	if err != nil {
		var te *TimeoutError
		if errors.As(err, &te) && last != "" {
			return last, fmt.Errorf("%w (last url %s)", err, last)
		}
		return last, err
	}
	return last, nil
}

// poll 以固定间隔检查条件，脚本异常与协议错误视为暂态（页面可能正在跳转）。
// 每次检查都受等待截止时间约束，页面无响应时同样按时返回 TimeoutError
func (p *Page) poll(ctx context.Context, timeout time.Duration, what string, check func(context.Context) (bool, error)) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	expired := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return &TimeoutError{What: what, Timeout: timeout}
	}
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		ok, err := check(pctx)
		if ok && err == nil {
			return nil
		}
		if pctx.Err() != nil {
			return expired()
		}
		if err != nil && !transient(err) {
			return err
		}
		select {
		case <-pctx.Done():
			return expired()
		case <-ticker.C:
		}
	}
}

func transient(err error) bool {
	var ee *EvalError
	var ce *cdp.Error
	return errors.As(err, &ee) || errors.As(err, &ce)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// jsString 将 Go 字符串编码为 JS 字面量
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
