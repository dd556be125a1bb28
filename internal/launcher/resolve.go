package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvVars 依次检查的可执行文件环境变量
var EnvVars = []string{"CHROME_PATH", "GOOGLE_CHROME_SHIM", "CHROME_BIN"}

// BrowserNotFoundError 没有任何候选可执行文件存在
type BrowserNotFoundError struct {
	Tried []string
}

func (e *BrowserNotFoundError) Error() string {
	return fmt.Sprintf("browser executable not found (tried %d candidates); set %s to a Chrome/Chromium binary",
		len(e.Tried), EnvVars[0])
}

// Resolver 浏览器可执行文件解析器
type Resolver struct {
	Lookup     func(string) (string, bool)
	Candidates []string // 绝对路径，按优先级
	PathNames  []string // 在 $PATH 中查找的名字
}

// DefaultResolver 当前平台的默认解析器
func DefaultResolver() *Resolver {
	return &Resolver{
		Lookup:     os.LookupEnv,
		Candidates: wellKnownPaths(runtime.GOOS),
		PathNames: []string{
			"google-chrome", "google-chrome-stable", "chromium", "chromium-browser",
			"chrome", "microsoft-edge", "msedge",
		},
	}
}

// Resolve 显式路径 → 环境变量 → 常见安装路径 → $PATH
func (r *Resolver) Resolve(preferred string) (string, error) {
	var tried []string
	try := func(p string) (string, bool) {
		if p == "" {
			return "", false
		}
		tried = append(tried, p)
		return executable(p)
	}

	if p, ok := try(preferred); ok {
		return p, nil
	}
	if r.Lookup != nil {
		for _, name := range EnvVars {
			v, _ := r.Lookup(name)
			if p, ok := try(strings.TrimSpace(v)); ok {
				return p, nil
			}
		}
	}
	for _, c := range r.Candidates {
		if p, ok := try(c); ok {
			return p, nil
		}
	}
	for _, n := range r.PathNames {
		if p, ok := try(n); ok {
			return p, nil
		}
	}
	return "", &BrowserNotFoundError{Tried: tried}
}

func executable(p string) (string, bool) {
	if filepath.Base(p) == p {
		found, err := exec.LookPath(p)
		return found, err == nil
	}
	fi, err := os.Stat(p)
	if err != nil || fi.IsDir() {
		return "", false
	}
	return p, true
}

func wellKnownPaths(goos string) []string {
	switch goos {
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
			"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		}
	case "windows":
		var out []string
		for _, base := range []string{os.Getenv("ProgramFiles"), os.Getenv("ProgramFiles(x86)"), os.Getenv("LocalAppData")} {
			if base == "" {
				continue
			}
			out = append(out,
				filepath.Join(base, `Google\Chrome\Application\chrome.exe`),
				filepath.Join(base, `Chromium\Application\chrome.exe`),
				filepath.Join(base, `Microsoft\Edge\Application\msedge.exe`),
			)
		}
		return out
	default:
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
			"/usr/bin/microsoft-edge",
		}
	}
}
