package cdp

import (
	"context"
	"fmt"

	"github.com/mafredri/cdp/protocol/target"
)

// Session 通过 sessionId 复用同一连接的页面会话，不拥有连接的生命周期
type Session struct {
	conn     *Conn
	ID       string
	TargetID string
}

// CreatePageSession 创建新标签页并以 flatten 模式附加
func CreatePageSession(ctx context.Context, conn *Conn, url string) (*Session, error) {
	if url == "" {
		url = "about:blank"
	}
	var created target.CreateTargetReply
	if err := conn.Call(ctx, "Target.createTarget", target.NewCreateTargetArgs(url), &created); err != nil {
		return nil, err
	}
	var attached target.AttachToTargetReply
	args := target.NewAttachToTargetArgs(created.TargetID).SetFlatten(true)
	if err := conn.Call(ctx, "Target.attachToTarget", args, &attached); err != nil {
		return nil, err
	}
	if attached.SessionID == "" {
		return nil, fmt.Errorf("cdp: attach %s: empty session id", created.TargetID)
	}
	conn.log.Debug("页面会话已附加", "target", string(created.TargetID), "session", string(attached.SessionID))
	return &Session{conn: conn, ID: string(attached.SessionID), TargetID: string(created.TargetID)}, nil
}

// Call 发送带 sessionId 的命令
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	return s.conn.call(ctx, s.ID, method, params, result)
}

// Subscribe 仅接收本会话的事件
func (s *Session) Subscribe(methods ...string) *Subscription {
	return s.conn.subscribe(s.ID, methods)
}

// Conn 返回所属连接
func (s *Session) Conn() *Conn { return s.conn }

// CloseTarget 关闭会话对应的标签页
func (s *Session) CloseTarget(ctx context.Context) error {
	return s.conn.Call(ctx, "Target.closeTarget", target.NewCloseTargetArgs(target.ID(s.TargetID)), nil)
}
