package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ColorMode 控制 ANSI 颜色输出。
type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

const (
	red    = "\033[1;91m"
	green  = "\033[1;92m"
	yellow = "\033[1;93m"
	blue   = "\033[1;94m"
	cyan   = "\033[1;96m"
	reset  = "\033[0m"
)

// Options 描述 Logger 的输出目标。
type Options struct {
	Color ColorMode
	// LogFile 非空时额外追加写入该文件（不带颜色）。
	LogFile string
	// Verbose 为 true 时 Debug 才会输出。
	Verbose bool

	// Out/Err 为空时都取 os.Stderr（stdout 留给 RunReport JSON）。
	Out io.Writer
	Err io.Writer
}

// Logger 提供分级、可选彩色的日志输出，并发安全。
type Logger struct {
	mu      sync.Mutex
	color   bool
	verbose bool
	out     io.Writer
	errOut  io.Writer
	file    *os.File
	now     func() time.Time
}

// New 按 opts 初始化 Logger；设置了 LogFile 时用完需要 Close。
func New(opts Options) (*Logger, error) {
	l := &Logger{
		out:     opts.Out,
		errOut:  opts.Err,
		verbose: opts.Verbose,
		now:     time.Now,
	}
	if l.out == nil {
		l.out = os.Stderr
	}
	if l.errOut == nil {
		l.errOut = os.Stderr
	}

	switch opts.Color {
	case ColorAlways:
		l.color = true
	case ColorNever:
		l.color = false
	default:
		f, ok := l.errOut.(*os.File)
		l.color = ok && isTerminal(f) && os.Getenv("NO_COLOR") == "" && strings.ToLower(os.Getenv("TERM")) != "dumb"
	}

	if opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		l.file = f
	}
	return l, nil
}

// Discard 返回一个什么都不输出的 Logger（测试与非交互场景使用）。
func Discard() *Logger {
	return &Logger{out: io.Discard, errOut: io.Discard, now: time.Now}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Close 关闭日志文件（若打开过）。
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) line(level, color, text string) {
	ts := l.now().Format("2006-01-02 15:04:05")
	l.mu.Lock()
	defer l.mu.Unlock()

	plain := ts + " [" + level + "] " + text + "\n"
	out := l.out
	if level == "ERROR" {
		out = l.errOut
	}
	if l.color {
		_, _ = io.WriteString(out, ts+" "+color+"["+level+"]"+reset+" "+text+"\n")
	} else {
		_, _ = io.WriteString(out, plain)
	}
	if l.file != nil {
		_, _ = io.WriteString(l.file, plain)
	}
}

func (l *Logger) Info(format string, args ...any) {
	l.line("INFO", blue, fmt.Sprintf(format, args...))
}

func (l *Logger) Success(format string, args ...any) {
	l.line("OK", green, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.line("WARN", yellow, fmt.Sprintf(format, args...))
}

// Error 写到 Err（默认 stderr）。
func (l *Logger) Error(format string, args ...any) {
	l.line("ERROR", red, fmt.Sprintf(format, args...))
}

// Debug 只在 Verbose 时输出。
func (l *Logger) Debug(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.line("DEBUG", cyan, fmt.Sprintf(format, args...))
}
