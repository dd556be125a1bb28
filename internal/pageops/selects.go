package pageops

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"cdpqa/pkg/model"
)

// SelectResult 下拉框断言结果
type SelectResult struct {
	Pass    bool
	Message string
	Missing []model.SelectOption
	Extra   []model.SelectOption
}

// SelectOptions 读取 <select> 的全部选项（value + 去空白的文本），元素不存在返回 ErrElementNotFound
func (p *Page) SelectOptions(ctx context.Context, selector string) ([]model.SelectOption, error) {
	expr := fmt.Sprintf(`(function(){
  const sel = document.querySelector(%s);
  if (!sel || !sel.options) return { found: false };
  return { found: true, options: Array.from(sel.options).map(o => ({ value: o.value, text: (o.textContent || '').trim() })) };
})()`, jsString(selector))
	var out struct {
		Found   bool                 `json:"found"`
		Options []model.SelectOption `json:"options"`
	}
	if err := p.Eval(ctx, expr, &out); err != nil {
		return nil, err
	}
	if !out.Found {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return out.Options, nil
}

// AssertSelectOptions 与期望集合做顺序无关的比较，报告缺失与多余项
func (p *Page) AssertSelectOptions(ctx context.Context, selector string, expected []model.SelectOption) (SelectResult, error) {
	actual, err := p.SelectOptions(ctx, selector)
	if err != nil {
		return SelectResult{}, err
	}
	want := lo.Map(expected, func(o model.SelectOption, _ int) model.SelectOption {
		return model.SelectOption{Value: o.Value, Text: strings.TrimSpace(o.Text)}
	})
	missing, extra := lo.Difference(want, actual)
	res := SelectResult{Pass: len(missing) == 0 && len(extra) == 0, Missing: missing, Extra: extra}
	if res.Pass {
		res.Message = "all options match"
	} else {
		m, _ := json.Marshal(missing)
		e, _ := json.Marshal(extra)
		res.Message = fmt.Sprintf("options mismatch: missing %s extra %s", m, e)
	}
	return res, nil
}

// AssertSelectSelectable 依次选中每个选项并派发 change，回读值不一致即失败
func (p *Page) AssertSelectSelectable(ctx context.Context, selector string) (SelectResult, error) {
	expr := fmt.Sprintf(`(function(){
  const sel = document.querySelector(%s);
  if (!sel || !sel.options) return { found: false };
  const values = Array.from(sel.options).map(o => o.value);
  for (const v of values) {
    sel.value = v;
    sel.dispatchEvent(new Event('change', { bubbles: true }));
    if (sel.value !== v) return { found: true, failed: v, actual: sel.value };
  }
  return { found: true, count: values.length };
})()`, jsString(selector))
	var out struct {
		Found  bool    `json:"found"`
		Failed *string `json:"failed"`
		Actual string  `json:"actual"`
		Count  int     `json:"count"`
	}
	if err := p.Eval(ctx, expr, &out); err != nil {
		return SelectResult{}, err
	}
	if !out.Found {
		return SelectResult{}, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	if out.Failed != nil {
		return SelectResult{Message: fmt.Sprintf("selection failed for %q (value is %q)", *out.Failed, out.Actual)}, nil
	}
	return SelectResult{Pass: true, Message: fmt.Sprintf("all %d options selectable", out.Count)}, nil
}
