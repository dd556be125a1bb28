package model

import (
	"encoding/json"
	"time"
)

type TestCaseID string
type RunID string

// Status 测试运行的最终状态
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusError   Status = "error"
)

// StepStatus 单个步骤的执行状态
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// 浏览器步骤类型
const (
	ActionGoto                   = "goto"
	ActionFocus                  = "focus"
	ActionWaitForSelector        = "wait_for_selector"
	ActionFillInput              = "fill_input"
	ActionClick                  = "click"
	ActionWaitForNavigation      = "wait_for_navigation"
	ActionAssertSelectOptions    = "assertSelectOptions"
	ActionAssertSelectSelectable = "assertSelectSelectable"
)

// TestCase 由外部生成/存储子系统提供的测试用例，核心只读
type TestCase struct {
	TestID   TestCaseID `json:"testId,omitempty"`
	Title    string     `json:"title,omitempty"`
	PageURL  string     `json:"pageUrl,omitempty"`
	Priority int        `json:"priority,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// Metadata 测试用例的可执行指令
type Metadata struct {
	BrowserSteps       []Step     `json:"browserSteps,omitempty"`
	HTTPRequests       []HTTPStep `json:"httpRequests,omitempty"`
	StopOnFirstFailure bool       `json:"stopOnFirstFailure,omitempty"`
}

// Step 声明式浏览器步骤
type Step struct {
	Action      string         `json:"action"`
	Selector    string         `json:"selector,omitempty"`
	URL         string         `json:"url,omitempty"`
	Value       string         `json:"value,omitempty"`
	ExpectedURL string         `json:"expectedUrl,omitempty"`
	Expected    []SelectOption `json:"expected,omitempty"`
	TimeoutMS   int            `json:"timeoutMs,omitempty"`
}

// SelectOption <select> 的一个选项（值 + 文本）
type SelectOption struct {
	Value string `json:"value"`
	Text  string `json:"text"`
}

// HTTPStep 声明式 HTTP 断言步骤
type HTTPStep struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Expect  *Expect           `json:"expect,omitempty"`
}

// Expect HTTP 响应断言
type Expect struct {
	Status      int               `json:"status,omitempty"`
	Contains    string            `json:"contains,omitempty"`
	NotContains string            `json:"notContains,omitempty"`
	JSON        map[string]string `json:"json,omitempty"`
}

// StepResult 单个步骤的执行结果，产生后不可变
type StepResult struct {
	Action     string         `json:"action"`
	Selector   string         `json:"selector,omitempty"`
	URL        string         `json:"url,omitempty"`
	Status     StepStatus     `json:"status"`
	DurationMS int64          `json:"durationMs"`
	MatchedURL string         `json:"matchedUrl,omitempty"`
	Found      *bool          `json:"found,omitempty"`
	Missing    []SelectOption `json:"missing,omitempty"`
	Extra      []SelectOption `json:"extra,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ErrorInfo 结果中的错误条目
type ErrorInfo struct {
	Message string `json:"message"`
}

// LogEntry 结果日志条目（cdp / http / info）
type LogEntry interface {
	LogType() string
}

// ConsoleMessage 页面控制台输出
type ConsoleMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// NetworkRequest 请求/响应对摘要
type NetworkRequest struct {
	ID           string  `json:"id"`
	URL          string  `json:"url"`
	Method       string  `json:"method"`
	Status       int     `json:"status"`
	ResponseTime float64 `json:"responseTime"`
	Failed       bool    `json:"failed,omitempty"`
}

// DOMSnapshot 最终页面的精简快照
type DOMSnapshot struct {
	FinalTitle    string          `json:"finalTitle"`
	FinalURL      string          `json:"finalUrl"`
	ElementsFound map[string]bool `json:"elementsFound"`
}

// BrowserLog 一次浏览器运行的完整记录
type BrowserLog struct {
	Type            string           `json:"type"`
	Action          string           `json:"action"`
	URL             string           `json:"url"`
	Steps           []StepResult     `json:"steps"`
	TotalDurationMS int64            `json:"totalDurationMs"`
	Screenshot      *string          `json:"screenshot"`
	ConsoleMessages []ConsoleMessage `json:"consoleMessages"`
	NetworkRequests []NetworkRequest `json:"networkRequests"`
	DOMSnapshot     *DOMSnapshot     `json:"domSnapshot"`
	Status          Status           `json:"status"`
	Error           string           `json:"error,omitempty"`
}

func (BrowserLog) LogType() string { return "cdp" }

// HTTPLog 一次 HTTP 调用的记录
type HTTPLog struct {
	Type       string `json:"type"`
	Method     string `json:"method"`
	URL        string `json:"url"`
	Status     int    `json:"status"`
	DurationMS int64  `json:"durationMs"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

func (HTTPLog) LogType() string { return "http" }

// InfoLog 说明性日志
type InfoLog struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (InfoLog) LogType() string { return "info" }

// NewInfoLog 创建 info 日志
func NewInfoLog(msg string) InfoLog { return InfoLog{Type: "info", Message: msg} }

// TestRunResult 一次测试用例执行的最终输出
type TestRunResult struct {
	RunID    RunID       `json:"runId,omitempty"`
	Status   Status      `json:"status"`
	Duration int64       `json:"duration"`
	Errors   []ErrorInfo `json:"errors"`
	Logs     []LogEntry  `json:"logs"`
}

// FirstError 返回第一条错误信息
func (r TestRunResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// BatchDetail 批量执行中单个用例的摘要
type BatchDetail struct {
	TestID        TestCaseID `json:"testId"`
	Title         string     `json:"title"`
	Status        Status     `json:"status"`
	ExecutionTime string     `json:"executionTime,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       time.Time  `json:"endedAt"`
	Error         string     `json:"error,omitempty"`
}

// BatchSummary 批量执行汇总
type BatchSummary struct {
	Mode        string        `json:"mode"`
	Concurrency int           `json:"concurrency"`
	Total       int           `json:"total"`
	Executed    int           `json:"executed"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Errored     int           `json:"errored"`
	StartedAt   time.Time     `json:"startedAt"`
	EndedAt     time.Time     `json:"endedAt"`
	DurationMS  int64         `json:"durationMs"`
	Details     []BatchDetail `json:"details"`
}

// StoredResult 已持久化的一次执行结果，Logs 保留原始 JSON
type StoredResult struct {
	RunID      RunID           `json:"runId"`
	TestID     TestCaseID      `json:"testId"`
	Status     Status          `json:"status"`
	DurationMS int64           `json:"durationMs"`
	Errors     []ErrorInfo     `json:"errors"`
	Logs       json.RawMessage `json:"logs"`
	CreatedAt  time.Time       `json:"createdAt"`
}
