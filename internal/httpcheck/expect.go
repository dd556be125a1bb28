package httpcheck

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"cdpqa/pkg/model"
	"cdpqa/pkg/traffic"
)

// Ctx 断言求值上下文
type Ctx struct {
	Status int
	Body   string
	Header traffic.Header
}

// NewCtx 由响应构造上下文
func NewCtx(resp *traffic.Response) Ctx {
	return Ctx{Status: resp.StatusCode, Body: string(resp.Body), Header: resp.Headers}
}

// Evaluate 按 status、contains、notContains、json 的顺序求值，返回第一个不满足的断言
func Evaluate(ctx Ctx, e *model.Expect) error {
	if e == nil {
		return nil
	}
	if e.Status != 0 && ctx.Status != e.Status {
		return fmt.Errorf("expected status %d, got %d", e.Status, ctx.Status)
	}
	if e.Contains != "" && !strings.Contains(ctx.Body, e.Contains) {
		return fmt.Errorf("response does not contain %q", e.Contains)
	}
	if e.NotContains != "" && strings.Contains(ctx.Body, e.NotContains) {
		return fmt.Errorf("response contains forbidden text %q", e.NotContains)
	}
	if len(e.JSON) == 0 {
		return nil
	}
	if !gjson.Valid(ctx.Body) {
		return fmt.Errorf("response is not valid JSON")
	}
	paths := lo.Keys(e.JSON)
	sort.Strings(paths)
	for _, p := range paths {
		want := e.JSON[p]
		got := gjson.Get(ctx.Body, p)
		if !got.Exists() {
			return fmt.Errorf("json path %q not found", p)
		}
		if got.String() != want {
			return fmt.Errorf("json path %q: expected %q, got %q", p, want, got.String())
		}
	}
	return nil
}
