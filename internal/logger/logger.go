package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 项目统一日志接口，参数为交替的 key/value
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志初始化选项
type Options struct {
	Level   string
	Writer  []string // console / file
	File    string
	MaxSize int // MB
	MaxAge  int // 天
}

type zlog struct {
	l zerolog.Logger
}

// New 根据选项创建 zerolog 日志实例
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writer {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			name := opts.File
			if name == "" {
				name = "logs/cdpqa.log"
			}
			writers = append(writers, &lumberjack.Logger{
				Filename: name,
				MaxSize:  orDefault(opts.MaxSize, 20),
				MaxAge:   orDefault(opts.MaxAge, 7),
				Compress: true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zlog{l: l}
}

// NewWriter 创建输出到指定 writer 的 JSON 日志，主要用于测试
func NewWriter(w io.Writer, level string) Logger {
	lv, err := zerolog.ParseLevel(level)
	if err != nil {
		lv = zerolog.DebugLevel
	}
	return &zlog{l: zerolog.New(w).Level(lv).With().Timestamp().Logger()}
}

// NewNop 创建丢弃所有输出的日志
func NewNop() Logger {
	return &zlog{l: zerolog.Nop()}
}

func (z *zlog) Debug(msg string, kv ...any) { fields(z.l.Debug(), kv).Msg(msg) }
func (z *zlog) Info(msg string, kv ...any)  { fields(z.l.Info(), kv).Msg(msg) }
func (z *zlog) Warn(msg string, kv ...any)  { fields(z.l.Warn(), kv).Msg(msg) }
func (z *zlog) Error(msg string, kv ...any) { fields(z.l.Error(), kv).Msg(msg) }

func (z *zlog) Err(err error, msg string, kv ...any) {
	fields(z.l.Error().Err(err), kv).Msg(msg)
}

func (z *zlog) With(kv ...any) Logger {
	ctx := z.l.With()
	for i := 0; i < len(kv); i += 2 {
		ctx = ctx.Interface(key(kv, i), value(kv, i))
	}
	return &zlog{l: ctx.Logger()}
}

func fields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		e = e.Interface(key(kv, i), value(kv, i))
	}
	return e
}

func key(kv []any, i int) string {
	if s, ok := kv[i].(string); ok {
		return s
	}
	return fmt.Sprint(kv[i])
}

func value(kv []any, i int) any {
	if i+1 >= len(kv) {
		return "(MISSING)"
	}
	if err, ok := kv[i+1].(error); ok {
		return err.Error()
	}
	if d, ok := kv[i+1].(time.Duration); ok {
		return d.String()
	}
	return kv[i+1]
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
