package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c, err := load("", lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, c.TestTimeout())
	assert.Equal(t, 15*time.Second, c.HTTPTimeout())
	assert.Equal(t, 5*time.Second, c.StartTimeout())
	assert.Equal(t, time.Second, c.SettleDelay())
	assert.Equal(t, DefaultConcurrency, c.Runner.Concurrency)
	assert.Equal(t, "cdpqa_", c.Sqlite.Prefix)
}

func TestYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdpqa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
runner:
  baseURL: http://app.internal:8080
  testTimeoutMS: 30000
  concurrency: 50
browser:
  executablePath: /opt/chrome
`), 0o600))

	c, err := load(path, lookupFrom(map[string]string{
		"QA_HTTP_TIMEOUT_MS": "2000",
		"CHROME_PATH":        "/usr/bin/chromium",
	}))
	require.NoError(t, err)
	assert.Equal(t, "http://app.internal:8080", c.Runner.BaseURL)
	assert.Equal(t, 30*time.Second, c.TestTimeout())
	assert.Equal(t, 2*time.Second, c.HTTPTimeout())
	assert.Equal(t, "/usr/bin/chromium", c.Browser.ExecutablePath)
	assert.Equal(t, MaxConcurrency, c.Runner.Concurrency)
	// 未在文件中给出的字段保持默认
	assert.Equal(t, 1000, c.Browser.SettleDelayMS)
}

func TestBaseURLFallbacks(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"default", nil, "http://localhost:3000"},
		{"nextauth", map[string]string{"NEXTAUTH_URL": "http://auth.test"}, "http://auth.test"},
		{"public app url wins over nextauth", map[string]string{
			"NEXTAUTH_URL": "http://auth.test", "NEXT_PUBLIC_APP_URL": "http://app.test",
		}, "http://app.test"},
		{"qa base url wins", map[string]string{
			"QA_BASE_URL": "http://qa.test", "NEXT_PUBLIC_APP_URL": "http://app.test", "NEXTAUTH_URL": "http://auth.test",
		}, "http://qa.test"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := load("", lookupFrom(tc.env))
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.Runner.BaseURL)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), lookupFrom(nil))
	require.Error(t, err)

	_, err = load("", lookupFrom(map[string]string{"QA_TEST_TIMEOUT_MS": "soon"}))
	require.Error(t, err)
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, DefaultConcurrency, ClampConcurrency(0))
	assert.Equal(t, 1, ClampConcurrency(1))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(99))
}
