package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"cdpqa/internal/logger"
)

// ErrConnClosed 连接已关闭，所有未完成与后续的调用都返回该错误
var ErrConnClosed = errors.New("cdp: connection closed")

// Error 协议返回的错误负载
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
	Method  string `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("cdp: %s: %s (%d)", e.Method, e.Message, e.Code)
	if e.Data != "" {
		msg += ": " + e.Data
	}
	return msg
}

// Event 无 id 的异步通知
type Event struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

// Caller 页面操作依赖的最小协议接口
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
	Subscribe(methods ...string) *Subscription
}

type reply struct {
	result json.RawMessage
	err    error
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Conn 到浏览器调试端点的单条 WebSocket 连接
type Conn struct {
	ws  *websocket.Conn
	log logger.Logger

	msgID   atomic.Int64
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan reply
	subs     map[*Subscription]struct{}
	closed   bool
	closeErr error

	eventBuffer int
	done        chan struct{}
	closeOnce   sync.Once
}

// Option 连接选项
type Option func(*Conn)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Conn) { c.log = l }
}

// WithEventBuffer 设置每个订阅的事件缓冲大小
func WithEventBuffer(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// Dial 建立 WebSocket 连接，握手完成后才返回
func Dial(ctx context.Context, wsURL string, opts ...Option) (*Conn, error) {
	c := &Conn{
		log:         logger.NewNop(),
		pending:     make(map[int64]chan reply),
		subs:        make(map[*Subscription]struct{}),
		eventBuffer: 256,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := d.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", wsURL, err)
	}
	c.ws = ws
	go c.readLoop()
	c.log.Debug("CDP 连接已建立", "url", wsURL)
	return c, nil
}

// Call 发送浏览器级命令
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	return c.call(ctx, "", method, params, result)
}

// Subscribe 订阅浏览器级事件（不带 sessionId 的事件）
func (c *Conn) Subscribe(methods ...string) *Subscription {
	return c.subscribe("", methods)
}

// Done 连接关闭后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err 返回关闭原因
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Pending 当前未完成的调用数
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close 关闭连接并拒绝所有未完成的调用
func (c *Conn) Close() error {
	c.shutdown(ErrConnClosed)
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	<-c.done
	return err
}

func (c *Conn) call(ctx context.Context, sessionID, method string, params, result any) error {
	id := c.msgID.Add(1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", method, err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err == nil && sessionID != "" {
		msg, err = sjson.SetBytes(msg, "sessionId", sessionID)
	}
	if err != nil {
		c.forget(id)
		return fmt.Errorf("cdp: encode %s: %w", method, err)
	}

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("cdp: write %s: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			var pe *Error
			if errors.As(r.err, &pe) {
				pe.Method = method
				return pe
			}
			return fmt.Errorf("%s: %w", method, r.err)
		}
		if result != nil && len(r.result) > 0 {
			if err := json.Unmarshal(r.result, result); err != nil {
				return fmt.Errorf("cdp: decode %s: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}
		c.route(msg)
	}
}

// route 按 id 或 method/sessionId 分发一条消息
func (c *Conn) route(msg []byte) {
	fields := gjson.GetManyBytes(msg, "id", "method", "sessionId", "result", "error", "params")
	id, method, sessionID := fields[0], fields[1], fields[2]

	if id.Exists() {
		c.mu.Lock()
		ch, ok := c.pending[id.Int()]
		delete(c.pending, id.Int())
		c.mu.Unlock()
		if !ok {
			c.log.Debug("丢弃未知 id 的响应", "id", id.Int())
			return
		}
		if e := fields[4]; e.Exists() {
			pe := &Error{}
			if err := json.Unmarshal([]byte(e.Raw), pe); err != nil {
				pe.Message = e.Raw
			}
			ch <- reply{err: pe}
			return
		}
		ch <- reply{result: json.RawMessage(fields[3].Raw)}
		return
	}

	if !method.Exists() {
		return
	}
	ev := Event{Method: method.String(), SessionID: sessionID.String(), Params: json.RawMessage(fields[5].Raw)}
	c.mu.Lock()
	for s := range c.subs {
		if s.matches(ev) {
			s.deliver(ev)
		}
	}
	c.mu.Unlock()
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = cause
		n := len(c.pending)
		for id, ch := range c.pending {
			ch <- reply{err: cause}
			delete(c.pending, id)
		}
		for s := range c.subs {
			s.closed = true
			close(s.ch)
			delete(c.subs, s)
		}
		c.mu.Unlock()
		if n > 0 {
			c.log.Warn("连接关闭，拒绝未完成的调用", "pending", n, "cause", cause)
		}
	})
}

func (c *Conn) subscribe(sessionID string, methods []string) *Subscription {
	s := &Subscription{
		conn:      c,
		sessionID: sessionID,
		methods:   make(map[string]struct{}, len(methods)),
		ch:        make(chan Event, c.eventBuffer),
	}
	for _, m := range methods {
		s.methods[m] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(s.ch)
		s.closed = true
		return s
	}
	c.subs[s] = struct{}{}
	return s
}
