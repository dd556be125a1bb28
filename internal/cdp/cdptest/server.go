// Package cdptest 提供测试用的伪浏览器调试端点
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"cdpqa/internal/cdp"
)

// Request 伪端点收到的一条命令
type Request struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Handler 返回命令结果或协议错误
type Handler func(req Request) (any, *cdp.Error)

// Server 基于 httptest 的伪调试端点，提供 /json/version 与 WebSocket
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader
	targets  atomic.Int64

	mu       sync.Mutex
	handlers map[string]Handler
	hang     map[string]bool
	conns    map[*wsConn]struct{}
	received []Request
}

type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

const browserPath = "/devtools/browser/fake"

// NewServer 启动伪端点，默认支持 Target.createTarget / Target.attachToTarget
func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		hang:     make(map[string]bool),
		conns:    make(map[*wsConn]struct{}),
	}
	s.Handle("Target.createTarget", func(Request) (any, *cdp.Error) {
		return map[string]string{"targetId": fmt.Sprintf("T%d", s.targets.Add(1))}, nil
	})
	s.Handle("Target.attachToTarget", func(req Request) (any, *cdp.Error) {
		var p struct {
			TargetID string `json:"targetId"`
			Flatten  bool   `json:"flatten"`
		}
		_ = json.Unmarshal(req.Params, &p)
		if !p.Flatten {
			return nil, &cdp.Error{Code: -32602, Message: "flatten required"}
		}
		return map[string]string{"sessionId": "S-" + p.TargetID}, nil
	})
	s.Handle("Target.closeTarget", func(Request) (any, *cdp.Error) {
		return map[string]bool{"success": true}, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", s.serveVersion)
	mux.HandleFunc(browserPath, s.serveWS)
	s.Server = httptest.NewServer(mux)
	return s
}

// WebSocketURL 浏览器级调试 WebSocket 地址
func (s *Server) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + browserPath
}

// Handle 注册命令处理器
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Hang 收到该命令后永不响应
func (s *Server) Hang(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hang[method] = true
}

// Requests 已收到的命令副本
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.received))
	copy(out, s.received)
	return out
}

// Emit 向所有连接广播事件
func (s *Server) Emit(method, sessionID string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	for _, c := range s.snapshotConns() {
		_ = c.writeJSON(msg)
	}
}

// DropConnections 直接断开所有 WebSocket，模拟浏览器崩溃
func (s *Server) DropConnections() {
	for _, c := range s.snapshotConns() {
		_ = c.ws.Close()
	}
}

// Close 断开连接并关闭 HTTP 服务
func (s *Server) Close() {
	s.DropConnections()
	s.Server.Close()
}

func (s *Server) snapshotConns() []*wsConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) serveVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"Browser":              "HeadlessChrome/0.0.0 (cdptest)",
		"Protocol-Version":     "1.3",
		"webSocketDebuggerUrl": s.WebSocketURL(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{ws: ws}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		var req Request
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, req)
		h, ok := s.handlers[req.Method]
		hang := s.hang[req.Method]
		s.mu.Unlock()
		if hang {
			continue
		}

		resp := map[string]any{"id": req.ID}
		if req.SessionID != "" {
			resp["sessionId"] = req.SessionID
		}
		if !ok {
			resp["error"] = cdp.Error{Code: -32601, Message: fmt.Sprintf("'%s' wasn't found", req.Method)}
		} else if result, perr := h(req); perr != nil {
			resp["error"] = perr
		} else if result == nil {
			resp["result"] = struct{}{}
		} else {
			resp["result"] = result
		}
		if err := c.writeJSON(resp); err != nil {
			return
		}
	}
}
