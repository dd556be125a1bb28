// Package session 浏览器运行的生命周期登记
package session

import (
	"sync"
	"time"

	"cdpqa/pkg/model"
)

// Phase 运行所处阶段
type Phase string

const (
	PhaseLaunching Phase = "launching"
	PhaseRunning   Phase = "running"
	PhaseClosing   Phase = "closing"
)

// Session 单次浏览器运行的状态
type Session struct {
	ID        model.RunID
	TestID    model.TestCaseID
	StartedAt time.Time

	mu    sync.Mutex
	phase Phase
	pid   int
	port  int
	step  int
}

// New 创建运行状态
func New(id model.RunID, testID model.TestCaseID) *Session {
	return &Session{ID: id, TestID: testID, StartedAt: time.Now(), phase: PhaseLaunching}
}

// Attach 记录浏览器进程信息并进入运行阶段
func (s *Session) Attach(pid, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pid, s.port, s.phase = pid, port, PhaseRunning
}

// SetStep 记录当前执行到的步骤序号
func (s *Session) SetStep(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = i
}

// SetPhase 切换阶段
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// Snapshot 只读视图
type Snapshot struct {
	ID        model.RunID      `json:"runId"`
	TestID    model.TestCaseID `json:"testId,omitempty"`
	Phase     Phase            `json:"phase"`
	PID       int              `json:"pid,omitempty"`
	Port      int              `json:"port,omitempty"`
	Step      int              `json:"step"`
	StartedAt time.Time        `json:"startedAt"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{ID: s.ID, TestID: s.TestID, Phase: s.phase, PID: s.pid, Port: s.port, Step: s.step, StartedAt: s.StartedAt}
}
