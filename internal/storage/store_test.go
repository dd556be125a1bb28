package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm/logger"

	"cdpqa/internal/ctxkeys"
	applog "cdpqa/internal/logger"
	"cdpqa/pkg/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Dsn: filepath.Join(t.TempDir(), "qa.db"), Prefix: "cdpqa_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTablesUsePrefix(t *testing.T) {
	s := openStore(t)
	assert.True(t, s.db.Migrator().HasTable("cdpqa_test_cases"))
	assert.True(t, s.db.Migrator().HasTable("cdpqa_test_results"))
}

func TestSaveAndListTestCases(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	ids, err := s.SaveTestCases(ctx, []model.TestCase{
		{TestID: "login", Title: "Login", Priority: 1, Metadata: model.Metadata{
			BrowserSteps: []model.Step{{Action: model.ActionGoto, URL: "/login"}}, StopOnFirstFailure: true,
		}},
		{Title: "Health", Priority: 5, Metadata: model.Metadata{HTTPRequests: []model.HTTPStep{{URL: "/api/health"}}}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, model.TestCaseID("login"), ids[0])
	assert.NotEmpty(t, ids[1])

	got, err := s.GetTestCase(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, "/login", got.Metadata.BrowserSteps[0].URL)
	assert.True(t, got.Metadata.StopOnFirstFailure)

	list, err := s.ListRunnable(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Health", list[0].Title)

	// 重复导入按 TestID 更新
	_, err = s.SaveTestCases(ctx, []model.TestCase{{TestID: "login", Title: "Login v2"}})
	require.NoError(t, err)
	got, err = s.GetTestCase(ctx, "login")
	require.NoError(t, err)
	assert.Equal(t, "Login v2", got.Title)

	_, err = s.GetTestCase(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveResultUpdatesCase(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.SaveTestCases(ctx, []model.TestCase{{TestID: "tc", PageURL: "/"}})
	require.NoError(t, err)

	for i, st := range []model.Status{model.StatusFailed, model.StatusPassed} {
		res := model.TestRunResult{
			RunID: model.RunID([]string{"r1", "r2"}[i]), Status: st, Duration: 42,
			Errors: []model.ErrorInfo{}, Logs: []model.LogEntry{model.NewInfoLog("hello")},
		}
		require.NoError(t, s.SaveResult(ctx, "tc", res))
	}

	stats, err := s.Stats(ctx, "tc")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, stats.Status)
	assert.Equal(t, 2, stats.ExecutionCount)
	assert.NotNil(t, stats.LastExecuted)

	results, err := s.Results(ctx, "tc", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.RunID("r2"), results[0].RunID)
	var logs []map[string]string
	require.NoError(t, json.Unmarshal(results[0].Logs, &logs))
	assert.Equal(t, "info", logs[0]["type"])

	limited, err := s.Results(ctx, "tc", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// 已执行的用例不再出现在待执行列表
	list, err := s.ListRunnable(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetStatus(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	_, err := s.SaveTestCases(ctx, []model.TestCase{{TestID: "tc"}})
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, "tc", model.StatusRunning))
	list, err := s.ListRunnable(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	st, err := s.Stats(ctx, "tc")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, st.Status)
}

func TestGormLoggerCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	gl := NewGormLogger(applog.NewWriter(&buf, "debug")).LogMode(logger.Info)
	ctx := ctxkeys.WithTraceID(context.Background(), "run-123")
	gl.Warn(ctx, "slow thing")
	assert.Contains(t, buf.String(), `"traceId":"run-123"`)
	assert.Contains(t, buf.String(), "slow thing")

	buf.Reset()
	NewGormLogger(applog.NewWriter(&buf, "debug")).Info(ctx, "hidden")
	assert.Empty(t, buf.String())
}
