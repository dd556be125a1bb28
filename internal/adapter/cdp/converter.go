package cdp

import (
	"encoding/json"
	"strings"

	"github.com/mafredri/cdp/protocol/log"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/runtime"

	"cdpqa/pkg/model"
)

// ToConsoleMessage 将 Runtime.consoleAPICalled 转换为中立控制台消息
func ToConsoleMessage(ev *runtime.ConsoleAPICalledReply) model.ConsoleMessage {
	parts := make([]string, 0, len(ev.Args))
	for i := range ev.Args {
		parts = append(parts, RemoteObjectText(ev.Args[i]))
	}
	return model.ConsoleMessage{Level: consoleLevel(ev.Type), Text: strings.Join(parts, " ")}
}

// ToLogMessage 将 Log.entryAdded（浏览器自身的报错等）转换为控制台消息
func ToLogMessage(ev *log.EntryAddedReply) model.ConsoleMessage {
	return model.ConsoleMessage{Level: ev.Entry.Level, Text: ev.Entry.Text}
}

// RemoteObjectText 将参数对象转为可读文本
func RemoteObjectText(o runtime.RemoteObject) string {
	if len(o.Value) > 0 {
		var s string
		if err := json.Unmarshal(o.Value, &s); err == nil {
			return s
		}
		return string(o.Value)
	}
	if o.UnserializableValue != nil {
		return string(*o.UnserializableValue)
	}
	if o.Description != nil {
		return *o.Description
	}
	return o.Type
}

func consoleLevel(t string) string {
	switch t {
	case "warning":
		return "warn"
	case "assert":
		return "error"
	case "":
		return "log"
	default:
		return t
	}
}

// ToNetworkRequest 由 Network.requestWillBeSent 创建请求摘要
func ToNetworkRequest(ev *network.RequestWillBeSentReply) model.NetworkRequest {
	return model.NetworkRequest{
		ID:     string(ev.RequestID),
		URL:    ev.Request.URL,
		Method: ev.Request.Method,
	}
}

// ApplyResponse 用 Network.responseReceived 补全状态码与响应耗时（毫秒）
func ApplyResponse(req *model.NetworkRequest, sentAt float64, ev *network.ResponseReceivedReply) {
	req.Status = ev.Response.Status
	if req.URL == "" {
		req.URL = ev.Response.URL
	}
	if sentAt > 0 {
		req.ResponseTime = roundMS((float64(ev.Timestamp) - sentAt) * 1000)
	}
}

// ApplyFailure 标记 Network.loadingFailed
func ApplyFailure(req *model.NetworkRequest, sentAt float64, ev *network.LoadingFailedReply) {
	req.Failed = true
	if sentAt > 0 {
		req.ResponseTime = roundMS((float64(ev.Timestamp) - sentAt) * 1000)
	}
}

func roundMS(ms float64) float64 {
	if ms < 0 {
		return 0
	}
	return float64(int64(ms*100+0.5)) / 100
}
