package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpqa/pkg/api"
	"cdpqa/pkg/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// setup 返回指向临时数据库与测试服务的配置文件
func setup(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	dir = t.TempDir()
	cfg := fmt.Sprintf(`
sqlite:
  dsn: %s
  prefix: cli_
log:
  level: error
  writer: [console]
runner:
  baseURL: %s
`, filepath.Join(dir, "qa.db"), srv.URL)
	return dir, writeFile(t, dir, "config.yaml", cfg)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(api.NewService)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const cases = `[
  {"testId":"health","title":"health","metadata":{"httpRequests":[{"url":"/api/health","expect":{"status":200,"json":{"status":"ok"}}}]}},
  {"testId":"missing","title":"missing","metadata":{"httpRequests":[{"url":"/api/missing","expect":{"status":200}}]}}
]`

func TestRootHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"import", "run", "exec", "exec-all", "results", "status"} {
		assert.Contains(t, out, sub)
	}
}

func TestRunReportsFailures(t *testing.T) {
	dir, cfg := setup(t)
	file := writeFile(t, dir, "cases.json", cases)

	out, err := execute(t, "-c", cfg, "run", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")

	var results []model.TestRunResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	assert.Equal(t, model.StatusPassed, results[0].Status)
	assert.Equal(t, model.StatusFailed, results[1].Status)
	assert.Equal(t, "expected status 200, got 404", results[1].FirstError())
}

func TestImportExecAndResults(t *testing.T) {
	dir, cfg := setup(t)
	file := writeFile(t, dir, "cases.json", cases)

	out, err := execute(t, "-c", cfg, "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, `"imported": 2`)

	_, err = execute(t, "-c", cfg, "exec", "health")
	require.NoError(t, err)

	out, err = execute(t, "-c", cfg, "results", "health", "--limit", "5")
	require.NoError(t, err)
	var stored []model.StoredResult
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, model.StatusPassed, stored[0].Status)

	out, err = execute(t, "-c", cfg, "status", "health")
	require.NoError(t, err)
	assert.Contains(t, out, `"executionCount": 1`)

	// 剩余的 missing 用例失败，命令返回错误
	out, err = execute(t, "-c", cfg, "exec-all", "--concurrency", "2")
	require.Error(t, err)
	var sum model.BatchSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Failed)
}

func TestExecUnknownCase(t *testing.T) {
	_, cfg := setup(t)
	_, err := execute(t, "-c", cfg, "exec", "nope")
	require.Error(t, err)
}

func TestReadCasesShapes(t *testing.T) {
	dir := t.TempDir()
	one := writeFile(t, dir, "one.json", `{"testId":"x","pageUrl":"/"}`)
	wrapped := writeFile(t, dir, "wrapped.json", `{"testCases":[{"testId":"a"},{"testId":"b"}]}`)
	empty := writeFile(t, dir, "empty.json", `{}`)

	got, err := readCases(one)
	require.NoError(t, err)
	assert.Equal(t, model.TestCaseID("x"), got[0].TestID)

	got, err = readCases(wrapped)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = readCases(empty)
	assert.Error(t, err)
}
