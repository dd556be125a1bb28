package traffic

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Request 中立的请求模型
type Request struct {
	URL     string // 完整URL
	Method  string // HTTP方法
	Headers Header // 请求头
	Body    []byte // 请求体原始数据
}

// Response 中立的响应模型
type Response struct {
	StatusCode int    // 状态码
	Headers    Header // 响应头
	Body       []byte // 响应体数据
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		Method:  http.MethodGet,
		Headers: make(Header),
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}

// ToHTTP 转换为 net/http 请求
func (r *Request) ToHTTP(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Cache-Control", "no-store")
	return req, nil
}

// ReadResponse 读取 net/http 响应为中立模型，读取后关闭 Body
func ReadResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	out := NewResponse()
	out.StatusCode = resp.StatusCode
	for k := range resp.Header {
		out.Headers.Set(k, resp.Header.Get(k))
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	out.Body = b
	return out, nil
}
