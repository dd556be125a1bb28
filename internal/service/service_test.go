package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpqa/internal/config"
	"cdpqa/internal/dispatch"
	"cdpqa/internal/httpcheck"
	"cdpqa/internal/runner"
	"cdpqa/internal/storage"
	"cdpqa/pkg/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type stubBrowser struct{}

func (stubBrowser) Run(ctx context.Context, spec runner.RunSpec) model.BrowserLog {
	return model.BrowserLog{Type: "cdp", Status: model.StatusPassed, Steps: []model.StepResult{}}
}

func newService(t *testing.T) *Service {
	t.Helper()
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			_, _ = w.Write([]byte(`{"ok":true}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(api.Close)

	store, err := storage.Open(storage.Options{Dsn: filepath.Join(t.TempDir(), "qa.db"), Prefix: "t_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	disp := dispatch.New(stubBrowser{}, httpcheck.New(httpcheck.Options{BaseURL: api.URL}), dispatch.Options{})
	return New(store, disp, 0, nil)
}

func healthCase(id string, status int) model.TestCase {
	return model.TestCase{TestID: model.TestCaseID(id), Title: id, Metadata: model.Metadata{
		HTTPRequests: []model.HTTPStep{{URL: "/api/health", Expect: &model.Expect{Status: status}}},
	}}
}

func TestExecuteTestPersistsResult(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.ImportTestCases(ctx, []model.TestCase{healthCase("ok", 200), healthCase("bad", 500)})
	require.NoError(t, err)

	res, err := s.ExecuteTest(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, res.Status)

	res, err = s.ExecuteTest(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, "expected status 500, got 200", res.FirstError())

	stored, err := s.Results(ctx, "bad", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.RunID, stored[0].RunID)
	assert.Equal(t, model.StatusFailed, stored[0].Status)

	_, err = s.ExecuteTest(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestExecuteAllRunsPendingOnly(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.ImportTestCases(ctx, []model.TestCase{
		healthCase("a", 200), healthCase("b", 200), healthCase("c", 500),
		{TestID: "page", PageURL: "/home"},
	})
	require.NoError(t, err)
	_, err = s.ExecuteTest(ctx, "a")
	require.NoError(t, err)

	sum, err := s.ExecuteAll(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConcurrency, sum.Concurrency)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Passed)
	assert.Equal(t, 1, sum.Failed)

	for _, id := range []model.TestCaseID{"b", "c", "page"} {
		r, err := s.Results(ctx, id, 0)
		require.NoError(t, err)
		assert.Len(t, r, 1, id)
	}

	// 全部执行过后没有待执行用例
	sum, err = s.ExecuteAll(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
}

func TestRunTestCaseDoesNotPersist(t *testing.T) {
	s := newService(t)
	res := s.RunTestCase(context.Background(), healthCase("adhoc", 200))
	assert.Equal(t, model.StatusPassed, res.Status)
	r, err := s.Results(context.Background(), "adhoc", 0)
	require.NoError(t, err)
	assert.Empty(t, r)
}
