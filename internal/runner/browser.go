package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdpqa/internal/cdp"
	"cdpqa/internal/launcher"
	"cdpqa/internal/logger"
	"cdpqa/internal/pageops"
	"cdpqa/pkg/model"
)

// Page 执行步骤所需的页面能力，由 pageops.Page 实现
type Page interface {
	Navigate(ctx context.Context, url string) error
	Focus(ctx context.Context, selector string) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (time.Duration, error)
	SetInputValue(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitForNavigation(ctx context.Context, pattern string, timeout time.Duration) (string, error)
	AssertSelectOptions(ctx context.Context, selector string, expected []model.SelectOption) (pageops.SelectResult, error)
	AssertSelectSelectable(ctx context.Context, selector string) (pageops.SelectResult, error)
	CaptureScreenshot(ctx context.Context) string
	DOMSnapshot(ctx context.Context) *model.DOMSnapshot
}

// Browser 一次运行独占的浏览器实例
type Browser interface {
	Page() Page
	Console() []model.ConsoleMessage
	Network() []model.NetworkRequest
	PID() int
	Port() int
	// Close 先关闭连接再结束进程，可重复调用
	Close() error
}

// BrowserFactory 为每次运行打开新的浏览器
type BrowserFactory interface {
	Open(ctx context.Context) (Browser, error)
}

// ChromeFactory 启动本地无头浏览器并附加页面会话
type ChromeFactory struct {
	Launch launcher.Options
	Page   pageops.Options
	Logger logger.Logger
}

// Open 启动进程、建立连接、创建页面会话并开始采集事件，任一步失败都会回收已创建的资源
func (f *ChromeFactory) Open(ctx context.Context) (Browser, error) {
	log := f.Logger
	if log == nil {
		log = logger.NewNop()
	}
	lopts := f.Launch
	lopts.Logger = log
	proc, err := launcher.Launch(ctx, lopts)
	if err != nil {
		return nil, err
	}
	b := &chromeBrowser{proc: proc, log: log}

	b.conn, err = cdp.Dial(ctx, proc.WebSocketURL, cdp.WithLogger(log))
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	sess, err := cdp.CreatePageSession(ctx, b.conn, "about:blank")
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page session: %w", err)
	}
	b.sess = sess
	popts := f.Page
	popts.Logger = log
	b.page = pageops.New(sess, popts)
	if err := b.page.EnableDomains(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("enable domains: %w", err)
	}
	if b.capture, err = b.page.StartEventCapture(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("start event capture: %w", err)
	}
	return b, nil
}

type chromeBrowser struct {
	proc    *launcher.Process
	conn    *cdp.Conn
	sess    *cdp.Session
	page    *pageops.Page
	capture *pageops.Capture
	log     logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func (b *chromeBrowser) Page() Page { return b.page }
func (b *chromeBrowser) PID() int   { return b.proc.PID }
func (b *chromeBrowser) Port() int  { return b.proc.Port }

func (b *chromeBrowser) Console() []model.ConsoleMessage {
	if b.capture == nil {
		return nil
	}
	return b.capture.Console()
}

func (b *chromeBrowser) Network() []model.NetworkRequest {
	if b.capture == nil {
		return nil
	}
	return b.capture.Network()
}

func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() { b.closeErr = b.close() })
	return b.closeErr
}

func (b *chromeBrowser) close() error {
	var errs []error
	if b.sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := b.sess.CloseTarget(ctx); err != nil {
			b.log.Debug("关闭标签页失败", "target", b.sess.TargetID, "error", err)
		}
		cancel()
	}
	if b.conn != nil {
		// 连接关闭会结束订阅，采集协程随之退出
		if err := b.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.capture != nil {
		b.capture.Stop()
		if n := b.capture.Dropped(); n > 0 {
			b.log.Warn("事件缓冲区溢出", "dropped", n)
		}
	}
	if err := b.proc.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
