package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpqa/internal/launcher"
	"cdpqa/internal/pageops"
	"cdpqa/pkg/model"
)

const loginPage = `<!doctype html>
<html><head><title>Login</title></head><body>
<form><input id="email"><input id="password" type="password"><button id="submit" type="button">Sign in</button></form>
<script>
document.getElementById('submit').addEventListener('click', function () {
  var e = document.getElementById('email').value, p = document.getElementById('password').value;
  console.log('submit', e);
  if (e && p) location.href = '/dashboard';
});
</script></body></html>`

const dashboardPage = `<!doctype html>
<html><head><title>Dashboard</title></head><body><nav>menu</nav><main><h1>Dashboard</h1></main></body></html>`

// 需要本机浏览器，设置 CDPQA_E2E=1 启用
func TestChromeFactoryLoginFlow(t *testing.T) {
	if os.Getenv("CDPQA_E2E") == "" {
		t.Skip("set CDPQA_E2E=1 to run against a local browser")
	}
	exe, err := launcher.DefaultResolver().Resolve("")
	if err != nil {
		t.Skip(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(loginPage)) })
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(dashboardPage)) })
	app := httptest.NewServer(mux)
	defer app.Close()

	f := &ChromeFactory{
		Launch: launcher.Options{ExecutablePath: exe, StartTimeout: 20 * time.Second},
		Page:   pageops.Options{SettleDelay: 300 * time.Millisecond},
	}
	r := New(f, Options{BaseURL: app.URL})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log := r.Run(ctx, RunSpec{RunID: "e2e", Steps: loginSteps()})
	require.Equal(t, model.StatusPassed, log.Status, log.Error)
	require.Len(t, log.Steps, 5)
	require.NotNil(t, log.Screenshot)
	require.NotNil(t, log.DOMSnapshot)
	assert.True(t, strings.HasSuffix(log.DOMSnapshot.FinalURL, "/dashboard"))
	assert.True(t, log.DOMSnapshot.ElementsFound["main"])
	assert.NotEmpty(t, log.NetworkRequests)
	assert.Zero(t, r.Sessions().Count())
}
