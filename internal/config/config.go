package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Browser struct {
		ExecutablePath string `yaml:"executablePath"`
		StartTimeoutMS int    `yaml:"startTimeoutMS"`
		SettleDelayMS  int    `yaml:"settleDelayMS"`
	} `yaml:"browser"`

	Runner struct {
		BaseURL       string `yaml:"baseURL"`
		TestTimeoutMS int    `yaml:"testTimeoutMS"`
		HTTPTimeoutMS int    `yaml:"httpTimeoutMS"`
		Concurrency   int    `yaml:"concurrency"`
	} `yaml:"runner"`
}

// envOverrides 可通过环境变量覆盖的配置项
type envOverrides struct {
	ExecutablePath string `envconfig:"CHROME_PATH"`
	BaseURL        string `envconfig:"QA_BASE_URL"`
	PublicAppURL   string `envconfig:"NEXT_PUBLIC_APP_URL"`
	AuthURL        string `envconfig:"NEXTAUTH_URL"`
	TestTimeoutMS  int    `envconfig:"QA_TEST_TIMEOUT_MS"`
	HTTPTimeoutMS  int    `envconfig:"QA_HTTP_TIMEOUT_MS"`
	Concurrency    int    `envconfig:"QA_CONCURRENCY"`
	LogLevel       string `envconfig:"QA_LOG_LEVEL"`
	SqliteDsn      string `envconfig:"QA_SQLITE_DSN"`
}

const (
	MaxConcurrency     = 10
	DefaultConcurrency = 5
)

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "db.sqlite3"
	c.Sqlite.Prefix = "cdpqa_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/cdpqa.log"
	c.Browser.StartTimeoutMS = 5000
	c.Browser.SettleDelayMS = 1000
	c.Runner.BaseURL = "http://localhost:3000"
	c.Runner.TestTimeoutMS = 60000
	c.Runner.HTTPTimeoutMS = 15000
	c.Runner.Concurrency = DefaultConcurrency
	return c
}

// Load 读取 YAML 配置文件（可为空），再应用环境变量覆盖
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	c := NewConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	var env envOverrides
	if err := envconfig.Process("", &env, lookup); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}
	c.apply(env)
	c.Runner.Concurrency = ClampConcurrency(c.Runner.Concurrency)
	return c, nil
}

func (c *Config) apply(env envOverrides) {
	if env.ExecutablePath != "" {
		c.Browser.ExecutablePath = env.ExecutablePath
	}
	// QA_BASE_URL 优先，其次沿用应用自身的地址变量
	for _, u := range []string{env.BaseURL, env.PublicAppURL, env.AuthURL} {
		if u != "" {
			c.Runner.BaseURL = u
			break
		}
	}
	if env.TestTimeoutMS > 0 {
		c.Runner.TestTimeoutMS = env.TestTimeoutMS
	}
	if env.HTTPTimeoutMS > 0 {
		c.Runner.HTTPTimeoutMS = env.HTTPTimeoutMS
	}
	if env.Concurrency > 0 {
		c.Runner.Concurrency = env.Concurrency
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.SqliteDsn != "" {
		c.Sqlite.Dsn = env.SqliteDsn
	}
}

// ClampConcurrency 将并发度限制在 [1, MaxConcurrency]，非正值取默认值
func ClampConcurrency(n int) int {
	if n <= 0 {
		return DefaultConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

func (c *Config) TestTimeout() time.Duration {
	return time.Duration(c.Runner.TestTimeoutMS) * time.Millisecond
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Runner.HTTPTimeoutMS) * time.Millisecond
}

func (c *Config) StartTimeout() time.Duration {
	return time.Duration(c.Browser.StartTimeoutMS) * time.Millisecond
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Browser.SettleDelayMS) * time.Millisecond
}
