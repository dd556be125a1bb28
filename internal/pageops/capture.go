package pageops

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/mafredri/cdp/protocol/log"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"

	adapter "cdpqa/internal/adapter/cdp"
	"cdpqa/internal/cdp"
	"cdpqa/internal/logger"
	"cdpqa/pkg/model"
)

var captureEvents = []string{
	"Runtime.consoleAPICalled",
	"Log.entryAdded",
	"Network.requestWillBeSent",
	"Network.responseReceived",
	"Network.loadingFailed",
}

// Capture 收集本会话的控制台消息与网络请求，直到 Stop
type Capture struct {
	sub  *cdp.Subscription
	done chan struct{}
	log  logger.Logger

	mu       sync.Mutex
	console  []model.ConsoleMessage
	requests map[string]*model.NetworkRequest
	sentAt   map[string]float64
	order    []string
}

// StartEventCapture 先订阅再启用 Log / Runtime / Network 域，避免漏掉启用期间的事件
func (p *Page) StartEventCapture(ctx context.Context) (*Capture, error) {
	c := &Capture{
		sub:      p.caller.Subscribe(captureEvents...),
		done:     make(chan struct{}),
		log:      p.log,
		requests: make(map[string]*model.NetworkRequest),
		sentAt:   make(map[string]float64),
	}
	go c.loop()
	for _, m := range []string{"Log.enable", "Runtime.enable", "Network.enable"} {
		if err := p.caller.Call(ctx, m, nil, nil); err != nil {
			c.Stop()
			return nil, err
		}
	}
	return c, nil
}

func (c *Capture) loop() {
	defer close(c.done)
	for ev := range c.sub.Events() {
		if err := c.handle(ev); err != nil {
			c.log.Debug("事件解析失败", "method", ev.Method, "error", err)
		}
	}
}

func (c *Capture) handle(ev cdp.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Method {
	case "Runtime.consoleAPICalled":
		var r runtime.ConsoleAPICalledReply
		if err := json.Unmarshal(ev.Params, &r); err != nil {
			return err
		}
		c.console = append(c.console, adapter.ToConsoleMessage(&r))
	case "Log.entryAdded":
		var r log.EntryAddedReply
		if err := json.Unmarshal(ev.Params, &r); err != nil {
			return err
		}
		c.console = append(c.console, adapter.ToLogMessage(&r))
	case "Network.requestWillBeSent":
		var r network.RequestWillBeSentReply
		if err := json.Unmarshal(ev.Params, &r); err != nil {
			return err
		}
		id := string(r.RequestID)
		req := adapter.ToNetworkRequest(&r)
		if _, ok := c.requests[id]; !ok {
			c.order = append(c.order, id)
		}
		// 重定向复用同一 requestId，以最后一跳为准
		c.requests[id] = &req
		c.sentAt[id] = float64(r.Timestamp)
	case "Network.responseReceived":
		var r network.ResponseReceivedReply
		if err := json.Unmarshal(ev.Params, &r); err != nil {
			return err
		}
		if req, ok := c.requests[string(r.RequestID)]; ok {
			adapter.ApplyResponse(req, c.sentAt[string(r.RequestID)], &r)
		}
	case "Network.loadingFailed":
		var r network.LoadingFailedReply
		if err := json.Unmarshal(ev.Params, &r); err != nil {
			return err
		}
		if req, ok := c.requests[string(r.RequestID)]; ok {
			adapter.ApplyFailure(req, c.sentAt[string(r.RequestID)], &r)
		}
	}
	return nil
}

// Console 已收集的控制台消息副本
func (c *Capture) Console() []model.ConsoleMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ConsoleMessage, len(c.console))
	copy(out, c.console)
	return out
}

// Network 按首次出现顺序返回请求副本
func (c *Capture) Network() []model.NetworkRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.NetworkRequest, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.requests[id])
	}
	return out
}

// Dropped 缓冲区满而丢弃的事件数
func (c *Capture) Dropped() int64 { return c.sub.Dropped() }

// Stop 结束收集，可重复调用
func (c *Capture) Stop() {
	c.sub.Close()
	<-c.done
}

// CaptureScreenshot 截取 PNG 并返回 base64，失败返回空串
func (p *Page) CaptureScreenshot(ctx context.Context) string {
	var reply page.CaptureScreenshotReply
	if err := p.caller.Call(ctx, "Page.captureScreenshot", page.NewCaptureScreenshotArgs().SetFormat("png"), &reply); err != nil {
		p.log.Debug("截图失败", "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(reply.Data)
}

// DOMSnapshot 最终标题、地址和少量结构元素的存在标记，失败返回 nil
func (p *Page) DOMSnapshot(ctx context.Context) *model.DOMSnapshot {
	const expr = `(function(){
  const found = {};
  for (const s of ['nav', 'main', 'header', 'footer', 'form', 'h1']) found[s] = !!document.querySelector(s);
  return { finalTitle: document.title, finalUrl: location.href, elementsFound: found };
})()`
	var snap model.DOMSnapshot
	if err := p.Eval(ctx, expr, &snap); err != nil {
		p.log.Debug("DOM 快照失败", "error", err)
		return nil
	}
	if snap.FinalURL == "" && snap.ElementsFound == nil {
		return nil
	}
	return &snap
}
