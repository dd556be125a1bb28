package session

import (
	"sort"
	"sync"

	"cdpqa/internal/logger"
	"cdpqa/pkg/model"
)

// Manager 登记所有存活的浏览器运行，用于泄漏核查与展示
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.RunID]*Session
	log      logger.Logger
}

// NewManager 创建运行登记表
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.RunID]*Session),
		log:      l,
	}
}

// Create 登记新的运行
func (m *Manager) Create(id model.RunID, testID model.TestCaseID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := New(id, testID)
	m.sessions[id] = s
	m.log.Debug("登记浏览器运行", "runID", string(id), "testID", string(testID), "active", len(m.sessions))
	return s
}

// Get 获取运行
func (m *Manager) Get(id model.RunID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 注销运行
func (m *Manager) Delete(id model.RunID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	m.log.Debug("注销浏览器运行", "runID", string(id), "active", len(m.sessions))
}

// List 按开始时间返回所有存活运行
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// Count 存活运行数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
