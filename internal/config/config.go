package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingDirs 表示 CLI 与配置文件都没有给出两个输入目录。
	ErrCodeMissingDirs = "config_missing_dirs"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名（可选）。
	FileName = "img2psd.yaml"
	// DefaultOutput 是输出目录的内置默认值。
	DefaultOutput = "output"
	// MaxWorkers 是 worker 数的上限；超出截断。
	MaxWorkers = 64
)

// CLIArgs 保存命令行入口，并保留“是否显式指定”的信息，
// 保证 --gray=false 之类的显式值能覆盖配置文件。
type CLIArgs struct {
	DirA string
	DirB string

	// ConfigPath 非空时必须存在；为空时尝试 <cwd>/img2psd.yaml。
	ConfigPath string

	Output    string
	OutputSet bool

	Gray    bool
	GraySet bool

	Workers    int
	WorkersSet bool

	Timeout    time.Duration
	TimeoutSet bool

	Report  string
	History string

	Verbose bool
}

// FileConfig 对应 img2psd.yaml 的解析结构。未知字段视为错误。
type FileConfig struct {
	DirA       string `yaml:"dir_a"`
	DirB       string `yaml:"dir_b"`
	Output     string `yaml:"output"`
	Gray       *bool  `yaml:"gray"`
	Workers    int    `yaml:"workers"`
	JobTimeout string `yaml:"job_timeout"`
	Report     string `yaml:"report"`
	HistoryDB  string `yaml:"history_db"`
	LogFile    string `yaml:"log_file"`
	Color      string `yaml:"color"`
}

// EffectiveConfig 是合并并规范化后的最终配置，由 pipeline 直接消费。
// 所有路径均为 clean + absolute。
type EffectiveConfig struct {
	DirA   string
	DirB   string
	Output string

	Gray    bool
	Workers int

	// JobTimeout 为单个合成任务的截止时间；0 表示不限制。
	JobTimeout time.Duration

	// ReportPath 非空时把 RunReport 写成 JSON 文件。
	ReportPath string
	// HistoryDB 非空时把每次运行记录到 SQLite。
	HistoryDB string

	LogFile string
	Color   string
	Verbose bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingDirs:
		return fmt.Sprintf("%s：需要两个输入目录（dir-1 dir-2，或配置文件中的 dir_a/dir_b）", e.Code)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则：
// 1) CLI 给了 --config：读取该文件（必须存在）
// 2) 否则尝试 <cwd>/img2psd.yaml（可选）
//
// 覆盖优先级：CLI > 配置文件 > 内置默认。
// CLI 中的相对路径相对 cwd；配置文件中的相对路径相对配置文件所在目录。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	required := false
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if !exists && required {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}

	return merge(cwdAbs, filepath.Dir(cfgPath), cli, fc, cfgPath)
}

func merge(cwdAbs, cfgDir string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	// pick：CLI 值 > 配置文件值 > 默认值；空串视为未指定。
	pick := func(cliVal, fileVal, def string) string {
		if strings.TrimSpace(cliVal) != "" {
			return absCleanFrom(cwdAbs, cliVal)
		}
		if strings.TrimSpace(fileVal) != "" {
			return absCleanFrom(cfgDir, fileVal)
		}
		if def != "" {
			return absCleanFrom(cwdAbs, def)
		}
		return ""
	}

	dirA := pick(cli.DirA, fc.DirA, "")
	dirB := pick(cli.DirB, fc.DirB, "")
	if dirA == "" || dirB == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingDirs, Path: cfgPath}
	}

	if cli.OutputSet && strings.TrimSpace(cli.Output) == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("--output 不能为空")}
	}
	output := pick(cli.Output, fc.Output, DefaultOutput)

	gray := false
	if cli.GraySet {
		gray = cli.Gray
	} else if fc.Gray != nil {
		gray = *fc.Gray
	}

	workers := fc.Workers
	if cli.WorkersSet {
		workers = cli.Workers
	}
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}

	var timeout time.Duration
	if cli.TimeoutSet {
		timeout = cli.Timeout
	} else if s := strings.TrimSpace(fc.JobTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("job_timeout 无效：%w", err)}
		}
		timeout = d
	}
	if timeout < 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("job_timeout 不能为负数：%s", timeout)}
	}

	color := strings.ToLower(strings.TrimSpace(fc.Color))
	switch color {
	case "", "auto":
		color = "auto"
	case "always", "never":
	default:
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("color 只能是 auto/always/never，实际是 %q", fc.Color)}
	}

	return EffectiveConfig{
		DirA:       dirA,
		DirB:       dirB,
		Output:     output,
		Gray:       gray,
		Workers:    workers,
		JobTimeout: timeout,
		ReportPath: pick(cli.Report, fc.Report, ""),
		HistoryDB:  pick(cli.History, fc.HistoryDB, ""),
		LogFile:    pick("", fc.LogFile, ""),
		Color:      color,
		Verbose:    cli.Verbose,
	}, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）；空文件视为空配置。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return FileConfig{}, true, nil
		}
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
