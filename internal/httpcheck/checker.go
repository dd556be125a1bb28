// Package httpcheck 声明式 HTTP 断言步骤的执行
package httpcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cdpqa/internal/logger"
	"cdpqa/pkg/model"
	"cdpqa/pkg/traffic"
)

const DefaultTimeout = 15 * time.Second

// Options 执行参数
type Options struct {
	BaseURL string
	Timeout time.Duration // 单次调用超时
	Client  *http.Client
	Logger  logger.Logger
}

// Result 一组 HTTP 步骤的执行结果
type Result struct {
	Status     model.Status
	Logs       []model.HTTPLog
	FirstError string
}

// Checker HTTP 步骤执行器
type Checker struct {
	opts Options
	log  logger.Logger
}

// New 创建执行器
func New(opts Options) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Checker{opts: opts, log: opts.Logger}
}

// Run 顺序执行步骤，stopOnFirstFailure 时遇到失败即停止
func (c *Checker) Run(ctx context.Context, steps []model.HTTPStep, stopOnFirstFailure bool) Result {
	res := Result{Status: model.StatusPassed, Logs: make([]model.HTTPLog, 0, len(steps))}
	for _, st := range steps {
		if ctx.Err() != nil {
			break
		}
		l := c.Do(ctx, st)
		res.Logs = append(res.Logs, l)
		if l.OK {
			continue
		}
		res.Status = model.StatusFailed
		if res.FirstError == "" {
			res.FirstError = l.Error
		}
		if stopOnFirstFailure {
			break
		}
	}
	return res
}

// Do 执行单个步骤并记录耗时与断言结果
func (c *Checker) Do(ctx context.Context, st model.HTTPStep) model.HTTPLog {
	req := c.buildRequest(st)
	out := model.HTTPLog{Type: "http", Method: req.Method, URL: req.URL}
	start := time.Now()

	resp, err := c.send(ctx, req)
	out.DurationMS = time.Since(start).Milliseconds()
	if resp != nil {
		out.Status = resp.StatusCode
	}
	if err == nil {
		err = Evaluate(NewCtx(resp), st.Expect)
	}
	if err != nil {
		out.Error = err.Error()
		c.log.Debug("HTTP 步骤失败", "method", out.Method, "url", out.URL, "status", out.Status, "error", out.Error)
		return out
	}
	out.OK = true
	return out
}

func (c *Checker) buildRequest(st model.HTTPStep) *traffic.Request {
	req := traffic.NewRequest()
	if st.Method != "" {
		req.Method = strings.ToUpper(st.Method)
	}
	ref := st.URL
	if ref == "" {
		ref = "/"
	}
	req.URL = traffic.ResolveURL(c.opts.BaseURL, ref)
	for k, v := range st.Headers {
		req.Headers.Set(k, v)
	}
	if req.Headers.Get("Content-Type") == "" {
		req.Headers.Set("Content-Type", "application/json")
	}
	req.Body = bodyBytes(st.Body)
	return req
}

// bodyBytes 字符串原样发送，对象与数组按 JSON 发送
func bodyBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

func (c *Checker) send(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	cctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	hreq, err := req.ToHTTP(cctx)
	if err != nil {
		return nil, err
	}
	hresp, err := c.opts.Client.Do(hreq)
	if err != nil {
		// 外层（用例超时或取消）先到期时不归因于单次请求超时
		if perr := ctx.Err(); perr != nil {
			return nil, fmt.Errorf("request aborted: %w", perr)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New("request timed out after " + c.opts.Timeout.String())
		}
		return nil, err
	}
	return traffic.ReadResponse(hresp)
}
