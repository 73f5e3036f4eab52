package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/img2psd/internal/app/run"
	"github.com/John-Robertt/img2psd/internal/config"
	"github.com/John-Robertt/img2psd/internal/domain"
	"github.com/John-Robertt/img2psd/internal/logging"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stdout)
		return
	}

	var code int
	switch args[0] {
	case "run":
		code = runCmd(args[1:])
	case "inspect":
		code = inspectCmd(args[1:], os.Stdout, os.Stderr)
	case "history":
		code = historyCmd(args[1:], os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage(os.Stderr)
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage(os.Stdout)
			return 0
		}
	}

	cli, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage(os.Stderr)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := pickProgressWriter()
	return runWith(ctx, cwd, cli, runIO{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		stdoutTTY:   isTTY(os.Stdout),
		progress:    progressW,
		interactive: interactive,
	})
}

// runIO 汇总 run 命令的输出目标，便于测试时替换为 buffer。
type runIO struct {
	stdout    io.Writer
	stderr    io.Writer
	stdoutTTY bool

	progress    io.Writer
	interactive bool
}

func runWith(ctx context.Context, cwd string, cli config.CLIArgs, rio runIO) int {
	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		fmt.Fprintf(rio.stderr, "配置错误：%v\n", err)
		emitReport(rio, reportForConfigError(cwd, cli, err))
		return 1
	}

	log, err := logging.New(logging.Options{
		Color:   logging.ColorMode(eff.Color),
		LogFile: eff.LogFile,
		Verbose: eff.Verbose,
		Out:     rio.stderr,
		Err:     rio.stderr,
	})
	if err != nil {
		fmt.Fprintf(rio.stderr, "初始化日志失败：%v\n", err)
		return 1
	}
	defer log.Close()

	var obs run.Observer = newLogObserver(log)
	if rio.interactive {
		obs = newProgressUI(rio.progress, log)
	}

	rr, err := run.Execute(ctx, eff, obs)
	if err != nil {
		var re *run.RunError
		if errors.As(err, &re) && (re.Code == run.ErrCodeReportFailed || re.Code == run.ErrCodeHistoryFailed) {
			// 文档已经写出，只是收尾失败。
			log.Warn("%v", err)
		} else {
			log.Error("%v", err)
		}
		emitReport(rio, rr)
		return 1
	}

	emitReport(rio, rr)
	if rio.interactive {
		emitLocations(rio.progress, eff)
	}
	if run.Failed(rr) {
		return 1
	}
	return 0
}

// parseRunArgs 解析 run 子命令参数：两个位置参数（dir-1 dir-2）+ 若干选项。
// 选项同时支持 "--name value" 与 "--name=value"，短选项同理（"-o DIR"、"-o=DIR"）。
func parseRunArgs(args []string) (config.CLIArgs, error) {
	var cli config.CLIArgs
	var dirs []string

	for i := 0; i < len(args); i++ {
		a := args[i]
		name, val, hasVal := strings.Cut(a, "=")
		if !strings.HasPrefix(a, "-") {
			// 位置参数原样保留，目录名里可以有 "="。
			name, val, hasVal = a, "", false
		}

		switch name {
		case "--output", "-o", "--workers", "--timeout", "--report", "--history", "--config":
			if !hasVal {
				if i+1 >= len(args) {
					return config.CLIArgs{}, fmt.Errorf("%s 需要一个值", name)
				}
				i++
				val = args[i]
			}
			if err := applyValue(&cli, name, val); err != nil {
				return config.CLIArgs{}, err
			}
		case "--gray":
			cli.Gray = true
			if hasVal {
				switch val {
				case "true":
				case "false":
					cli.Gray = false
				default:
					return config.CLIArgs{}, fmt.Errorf("--gray 只能是 true 或 false，实际是 %q", val)
				}
			}
			cli.GraySet = true
		case "-v", "--verbose":
			cli.Verbose = true
		default:
			if strings.HasPrefix(a, "-") {
				return config.CLIArgs{}, fmt.Errorf("未知参数 %q", a)
			}
			if len(dirs) == 2 {
				return config.CLIArgs{}, fmt.Errorf("多余的参数 %q（只需要 dir-1 dir-2）", a)
			}
			dirs = append(dirs, a)
		}
	}

	switch len(dirs) {
	case 2:
		cli.DirA, cli.DirB = dirs[0], dirs[1]
	case 1:
		return config.CLIArgs{}, fmt.Errorf("缺少 dir-2")
	}
	return cli, nil
}

func applyValue(cli *config.CLIArgs, name, val string) error {
	switch name {
	case "--output", "-o":
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("--output 不能为空")
		}
		cli.Output = val
		cli.OutputSet = true
	case "--workers":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return fmt.Errorf("--workers 需要正整数，实际是 %q", val)
		}
		cli.Workers = n
		cli.WorkersSet = true
	case "--timeout":
		d, err := time.ParseDuration(val)
		if err != nil || d < 0 {
			return fmt.Errorf("--timeout 需要非负时长（如 30s），实际是 %q", val)
		}
		cli.Timeout = d
		cli.TimeoutSet = true
	case "--report":
		cli.Report = val
	case "--history":
		cli.History = val
	case "--config":
		cli.ConfigPath = val
	}
	return nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  img2psd run <dir-1> <dir-2> [选项]
  img2psd inspect <file.psd>
  img2psd history --db FILE [--limit N] [run-id]

命令：
  run      把两个目录中同名的图片两两合成为两图层 PSD
  inspect  查看 PSD 文档的图层信息
  history  查看运行历史（SQLite）

使用 "img2psd run --help" 查看详细说明。
`)
}

func printRunUsage(w io.Writer) {
	fmt.Fprint(w, `用法：
  img2psd run <dir-1> <dir-2> [选项]

  dir-1 中的图片作为 Background 图层，dir-2 中同名图片作为 Layer 1。
  两个目录的图片数量必须一致。

选项：
  -o, --output DIR    输出目录（默认 output）
  --gray[=true|false] 以灰度模式合成；支持 --gray=false 覆盖配置中的 gray: true
  --workers N         并发数（默认 CPU 核数，上限 64）
  --timeout DUR       单个任务的超时（如 30s；默认不限制）
  --report FILE       额外把 RunReport 写成 JSON 文件
  --history FILE      把本次运行记录到 SQLite 数据库
  --config FILE       配置文件（默认读取 ./img2psd.yaml，可选）
  -v, --verbose       输出调试日志
  -h, --help          显示帮助
`)
}

func emitReport(rio runIO, rr domain.RunReport) {
	summary := fmt.Sprintf("完成：total=%d succeeded=%d failed=%d",
		rr.Summary.Total, rr.Summary.Succeeded, rr.Summary.Failed)

	if rio.stdoutTTY {
		fmt.Fprintln(rio.stdout, summary)
		for _, it := range rr.Items {
			if !it.Failed() {
				continue
			}
			fmt.Fprintf(rio.stderr, "%s %s: %s\n", pairLabel(it), it.ErrorCode, firstLine(it.ErrorMsg))
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(rio.stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(rio.stderr, summary)
}

func reportForConfigError(cwd string, cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		RunID:      uuid.NewString(),
		DirA:       cli.DirA,
		DirB:       cli.DirB,
		Output:     cli.Output,
		Gray:       cli.Gray,
		StartedAt:  now,
		FinishedAt: now,
		ErrorCode:  config.Code(err),
		ErrorMsg:   err.Error(),
	}
	if rr.Output == "" {
		rr.Output = filepath.Join(cwd, config.DefaultOutput)
	}
	rr.Finalize()
	return rr
}

// pairLabel 用两个源文件名标识一个任务。
func pairLabel(it domain.JobResult) string {
	return filepath.Base(it.SourceA) + " + " + filepath.Base(it.SourceB)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "out: %s\n", eff.Output)
	if eff.ReportPath != "" {
		fmt.Fprintf(w, "report: %s\n", eff.ReportPath)
	}
	if eff.HistoryDB != "" {
		fmt.Fprintf(w, "history: %s\n", eff.HistoryDB)
	}
}
