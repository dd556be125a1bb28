package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mafredri/cdp/devtool"

	"cdpqa/internal/logger"
)

var errExited = errors.New("browser process exited")

// BrowserStartTimeoutError 进程已启动但调试端点始终不可达
type BrowserStartTimeoutError struct {
	Port    int
	Timeout time.Duration
	Err     error
}

func (e *BrowserStartTimeoutError) Error() string {
	return fmt.Sprintf("browser debugging endpoint on port %d not reachable after %s: %v", e.Port, e.Timeout, e.Err)
}

func (e *BrowserStartTimeoutError) Unwrap() error { return e.Err }

// Options 启动选项
type Options struct {
	ExecutablePath string
	Port           int
	StartTimeout   time.Duration
	PollInterval   time.Duration
	UserDataDir    string
	ExtraArgs      []string
	Resolver       *Resolver
	Logger         logger.Logger
}

// Process 一个已启动的无头浏览器进程
type Process struct {
	PID            int
	Port           int
	ExecutablePath string
	WebSocketURL   string
	Browser        string

	cmd       *exec.Cmd
	profile   string
	ownsDir   bool
	exited    chan struct{}
	closeOnce sync.Once
	log       logger.Logger
}

// FreePort 由操作系统分配一个空闲端口后立即释放
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Args 启动参数
func Args(port int, userDataDir string, extra ...string) []string {
	args := []string{
		"--headless=new",
		"--remote-debugging-port=" + strconv.Itoa(port),
		"--remote-debugging-address=127.0.0.1",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-gpu",
		"--disable-extensions",
		"--disable-background-networking",
		"--disable-sync",
		"--mute-audio",
	}
	if userDataDir != "" {
		args = append(args, "--user-data-dir="+userDataDir)
	}
	args = append(args, extra...)
	return append(args, "about:blank")
}

// Launch 解析可执行文件、分配端口、启动进程并轮询直到调试端点可达
func Launch(ctx context.Context, opts Options) (*Process, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	r := opts.Resolver
	if r == nil {
		r = DefaultResolver()
	}
	path, err := r.Resolve(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	if port == 0 {
		if port, err = FreePort(); err != nil {
			return nil, fmt.Errorf("allocate debugging port: %w", err)
		}
	}

	p := &Process{Port: port, ExecutablePath: path, profile: opts.UserDataDir, exited: make(chan struct{}), log: l}
	if p.profile == "" {
		if p.profile, err = os.MkdirTemp("", "cdpqa-profile-*"); err != nil {
			return nil, fmt.Errorf("create profile dir: %w", err)
		}
		p.ownsDir = true
	}

	p.cmd = exec.Command(path, Args(port, p.profile, opts.ExtraArgs...)...)
	setProcAttr(p.cmd)
	if err := p.cmd.Start(); err != nil {
		p.removeProfile()
		return nil, fmt.Errorf("start browser %s: %w", path, err)
	}
	p.PID = p.cmd.Process.Pid
	go func() {
		_ = p.cmd.Wait()
		close(p.exited)
	}()
	l.Debug("浏览器进程已启动", "pid", p.PID, "port", port, "path", path)

	timeout := opts.StartTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ver, err := waitForEndpoint(ctx, "http://127.0.0.1:"+strconv.Itoa(port), timeout, interval, p.exited)
	if err != nil {
		_ = p.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("launch browser: %w", ctx.Err())
		}
		return nil, &BrowserStartTimeoutError{Port: port, Timeout: timeout, Err: err}
	}
	p.WebSocketURL = ver.WebSocketDebuggerURL
	p.Browser = ver.Browser
	l.Info("浏览器调试端点就绪", "pid", p.PID, "browser", ver.Browser)
	return p, nil
}

// WaitForEndpoint 轮询 /json/version 直到返回 WebSocket 地址
func WaitForEndpoint(ctx context.Context, endpoint string, timeout, interval time.Duration) (*devtool.Version, error) {
	return waitForEndpoint(ctx, endpoint, timeout, interval, nil)
}

func waitForEndpoint(ctx context.Context, endpoint string, timeout, interval time.Duration, exited <-chan struct{}) (*devtool.Version, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dt := devtool.New(endpoint)
	var ver *devtool.Version
	var last error
	op := func() error {
		select {
		case <-exited:
			return backoff.Permanent(errExited)
		default:
		}
		actx, acancel := context.WithTimeout(ctx, time.Second)
		defer acancel()
		v, err := dt.Version(actx)
		if err != nil {
			last = err
			return err
		}
		if v.WebSocketDebuggerURL == "" {
			last = errors.New("version endpoint returned no webSocketDebuggerUrl")
			return last
		}
		ver = v
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)); err != nil {
		if errors.Is(err, errExited) || last == nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w (last error: %v)", err, last)
	}
	return ver, nil
}

// Exited 进程退出后关闭
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Close 结束进程（含子进程组）并清理临时用户目录，可重复调用
func (p *Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		// 主进程已退出时进程组内仍可能残留渲染/GPU 子进程，始终按组清理
		if kerr := killTree(p.cmd.Process); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
		select {
		case <-p.exited:
		case <-time.After(5 * time.Second):
			err = fmt.Errorf("browser pid %d did not exit after kill", p.PID)
		}
		p.removeProfile()
		p.log.Debug("浏览器进程已结束", "pid", p.PID)
	})
	return err
}

func (p *Process) removeProfile() {
	if p.ownsDir && p.profile != "" {
		_ = os.RemoveAll(p.profile)
	}
}
