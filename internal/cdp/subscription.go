package cdp

import "sync/atomic"

// Subscription 按 sessionId 与事件名过滤的事件流
type Subscription struct {
	conn      *Conn
	sessionID string
	methods   map[string]struct{}
	ch        chan Event
	closed    bool // 受 conn.mu 保护
	dropped   atomic.Int64
}

// Events 事件通道，连接关闭或取消订阅后关闭
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped 因缓冲区满而丢弃的事件数
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close 取消订阅
func (s *Subscription) Close() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if _, ok := s.conn.subs[s]; ok {
		delete(s.conn.subs, s)
		close(s.ch)
	}
}

func (s *Subscription) matches(ev Event) bool {
	if ev.SessionID != s.sessionID {
		return false
	}
	if len(s.methods) == 0 {
		return true
	}
	_, ok := s.methods[ev.Method]
	return ok
}

// deliver 调用方持有 conn.mu
func (s *Subscription) deliver(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}
