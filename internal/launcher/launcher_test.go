package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpqa/internal/cdp/cdptest"
)

const (
	fakeBrowserEnv  = "CDPQA_FAKE_BROWSER"
	childPidfileEnv = "CDPQA_FAKE_CHILD_PIDFILE"
)

func TestMain(m *testing.M) {
	switch os.Getenv(fakeBrowserEnv) {
	case "serve":
		fakeBrowser(true)
		return
	case "hang":
		fakeBrowser(false)
		return
	}
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// fakeBrowser 作为子进程运行，按 --remote-debugging-port 提供 /json/version
func fakeBrowser(serve bool) {
	if f := os.Getenv("CDPQA_FAKE_PIDFILE"); f != "" {
		_ = os.WriteFile(f, []byte(strconv.Itoa(os.Getpid())), 0o600)
	}
	if !serve {
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	// 模拟渲染子进程，与浏览器主进程同属一个进程组
	if f := os.Getenv(childPidfileEnv); f != "" {
		child := exec.Command(os.Args[0])
		child.Env = append(os.Environ(), fakeBrowserEnv+"=hang", "CDPQA_FAKE_PIDFILE="+f, childPidfileEnv+"=")
		_ = child.Start()
	}
	port := ""
	for _, a := range os.Args[1:] {
		if v, ok := strings.CutPrefix(a, "--remote-debugging-port="); ok {
			port = v
		}
	}
	ln, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		os.Exit(2)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "FakeChrome/1.0",
			"webSocketDebuggerUrl": fmt.Sprintf("ws://127.0.0.1:%s/devtools/browser/fake", port),
		})
	})
	_ = http.Serve(ln, mux)
	os.Exit(0)
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
	return p
}

func TestResolveOrder(t *testing.T) {
	dir := t.TempDir()
	preferred := touch(t, dir, "preferred")
	fromEnv := touch(t, dir, "from-env")
	wellKnown := touch(t, dir, "well-known")

	env := map[string]string{"GOOGLE_CHROME_SHIM": fromEnv}
	r := &Resolver{
		Lookup:     func(k string) (string, bool) { v, ok := env[k]; return v, ok },
		Candidates: []string{filepath.Join(dir, "absent"), wellKnown},
	}

	p, err := r.Resolve(preferred)
	require.NoError(t, err)
	assert.Equal(t, preferred, p)

	p, err = r.Resolve(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Equal(t, fromEnv, p)

	delete(env, "GOOGLE_CHROME_SHIM")
	p, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, wellKnown, p)
}

func TestResolveNotFound(t *testing.T) {
	r := &Resolver{
		Lookup:     func(string) (string, bool) { return "", false },
		Candidates: []string{"/definitely/not/here/chrome"},
		PathNames:  []string{"cdpqa-no-such-browser"},
	}
	_, err := r.Resolve("")
	var nf *BrowserNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Len(t, nf.Tried, 2)
	assert.Contains(t, err.Error(), "CHROME_PATH")

	_, err = Launch(context.Background(), Options{Resolver: r})
	require.ErrorAs(t, err, &nf)
}

func TestWellKnownPathsCoverFallbackBrowser(t *testing.T) {
	for _, goos := range []string{"linux", "darwin"} {
		paths := strings.Join(wellKnownPaths(goos), "\n")
		assert.Contains(t, strings.ToLower(paths), "chrom", goos)
		assert.Contains(t, strings.ToLower(paths), "edge", goos)
	}
}

func TestFreePortIsBindable(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	require.Positive(t, port)
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	_ = ln.Close()
}

func TestArgsGuaranteeHeadlessFlags(t *testing.T) {
	args := Args(9333, "/tmp/profile")
	for _, f := range []string{"--headless=new", "--remote-debugging-port=9333", "--no-first-run",
		"--no-default-browser-check", "--disable-gpu", "--user-data-dir=/tmp/profile"} {
		assert.Contains(t, args, f)
	}
}

func TestWaitForEndpoint(t *testing.T) {
	srv := cdptest.NewServer()
	defer srv.Close()

	ver, err := WaitForEndpoint(context.Background(), srv.URL, time.Second, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, srv.WebSocketURL(), ver.WebSocketDebuggerURL)
}

func TestWaitForEndpointTimesOut(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)

	start := time.Now()
	_, err = WaitForEndpoint(context.Background(), "http://127.0.0.1:"+strconv.Itoa(port), 300*time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestLaunchAndClose(t *testing.T) {
	t.Setenv(fakeBrowserEnv, "serve")
	p, err := Launch(context.Background(), Options{ExecutablePath: os.Args[0], StartTimeout: 10 * time.Second, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Positive(t, p.PID)
	assert.Equal(t, "FakeChrome/1.0", p.Browser)
	assert.Equal(t, fmt.Sprintf("ws://127.0.0.1:%d/devtools/browser/fake", p.Port), p.WebSocketURL)
	profile := p.profile

	require.NoError(t, p.Close())
	select {
	case <-p.Exited():
	default:
		t.Fatal("process still running after Close")
	}
	_, err = os.Stat(profile)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoError(t, p.Close())
}

func TestSequentialLaunchesLeaveNoProcesses(t *testing.T) {
	t.Setenv(fakeBrowserEnv, "serve")
	var procs []*Process
	for i := 0; i < 3; i++ {
		p, err := Launch(context.Background(), Options{ExecutablePath: os.Args[0], StartTimeout: 10 * time.Second})
		require.NoError(t, err)
		require.NoError(t, p.Close())
		procs = append(procs, p)
	}
	for _, p := range procs {
		select {
		case <-p.Exited():
		default:
			t.Fatalf("pid %d still alive", p.PID)
		}
	}
}
