package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/John-Robertt/img2psd/internal/app/run"
	"github.com/John-Robertt/img2psd/internal/config"
	"github.com/John-Robertt/img2psd/internal/domain"
	"github.com/John-Robertt/img2psd/internal/logging"
)

var (
	_ run.Observer = (*progressUI)(nil)
	_ run.Observer = (*logObserver)(nil)
)

const (
	progressPrefix = " Creating documents... "

	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"
)

var (
	prefixStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	countStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// progressUI 在交互终端里原地重绘一条进度条：
// 前缀 + 进度条 + done/total + 已用时间 + 预计剩余时间。
//
// - 所有输出写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 任务失败时先清掉当前行，再通过 logger 打印一行，然后重绘进度条
type progressUI struct {
	w   io.Writer
	log *logging.Logger

	mu        sync.Mutex
	bar       progress.Model
	startedAt time.Time
	total     int
	done      int
	failed    int
	finished  bool

	now func() time.Time
}

func newProgressUI(w io.Writer, log *logging.Logger) *progressUI {
	if log == nil {
		log = logging.Discard()
	}
	return &progressUI{
		w:   w,
		log: log,
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(50), progress.WithoutPercentage()),
		now: time.Now,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.startedAt = now

	mode := "rgb"
	if eff.Gray {
		mode = "grayscale"
	}
	timeout := "off"
	if eff.JobTimeout > 0 {
		timeout = eff.JobTimeout.String()
	}

	fmt.Fprintf(p.w, "[%s] img2psd run\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  dir-1: %s\n", eff.DirA)
	fmt.Fprintf(p.w, "  dir-2: %s\n", eff.DirB)
	fmt.Fprintf(p.w, "  output: %s\n", eff.Output)
	fmt.Fprintf(p.w, "  mode: %s\n", mode)
	fmt.Fprintf(p.w, "  workers: %d\n", eff.Workers)
	fmt.Fprintf(p.w, "  job_timeout: %s\n", timeout)
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnPaired(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	fmt.Fprintf(p.w, "配对: pairs=%d (%s)\n", total, formatShortDuration(p.now().Sub(p.startedAt)))
	// 重绘期间隐藏光标；最后一个任务完成时恢复。
	fmt.Fprint(p.w, hideCursor)
	p.renderLocked()
}

func (p *progressUI) OnJobDone(done, total int, res domain.JobResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// done 由 run 层的原子计数给出；回调可能乱序到达，只取最大值。
	if done > p.done {
		p.done = done
	}
	p.total = total
	if res.Failed() {
		p.failed++
		fmt.Fprint(p.w, "\r\033[K")
		p.log.Error("[%d/%d] %s %s: %s", done, total, pairLabel(res), res.ErrorCode, truncate(firstLine(res.ErrorMsg), 160))
	}
	p.renderLocked()

	if p.done >= p.total && !p.finished {
		p.finished = true
		fmt.Fprint(p.w, showCursor+"\n")
	}
}

func (p *progressUI) renderLocked() {
	if p.finished {
		return
	}
	fmt.Fprint(p.w, "\r\033[K"+p.lineLocked())
}

func (p *progressUI) lineLocked() string {
	percent := 0.0
	if p.total > 0 {
		percent = float64(p.done) / float64(p.total)
	}
	elapsed := p.now().Sub(p.startedAt)

	counts := fmt.Sprintf(" %d/%d elapsed %s remaining %s",
		p.done, p.total, formatElapsed(elapsed), formatRemaining(elapsed, p.done, p.total))
	if p.failed > 0 {
		counts += fmt.Sprintf(" failed %d", p.failed)
	}
	return prefixStyle.Render(progressPrefix) + p.bar.ViewAs(percent) + countStyle.Render(counts)
}

// logObserver 用于非交互场景：不画进度条，只通过 logger 输出阶段与失败信息。
type logObserver struct {
	log *logging.Logger
}

func newLogObserver(log *logging.Logger) *logObserver {
	if log == nil {
		log = logging.Discard()
	}
	return &logObserver{log: log}
}

func (o *logObserver) OnStart(eff config.EffectiveConfig) {
	o.log.Debug("开始：dir-1=%s dir-2=%s output=%s gray=%t workers=%d", eff.DirA, eff.DirB, eff.Output, eff.Gray, eff.Workers)
}

func (o *logObserver) OnPaired(total int) {
	o.log.Info("配对完成：%d 对", total)
}

func (o *logObserver) OnJobDone(done, total int, res domain.JobResult) {
	if res.Failed() {
		o.log.Error("[%d/%d] %s %s: %s", done, total, pairLabel(res), res.ErrorCode, truncate(firstLine(res.ErrorMsg), 160))
	} else {
		o.log.Debug("[%d/%d] %s -> %s (%dms)", done, total, pairLabel(res), filepath.Base(res.Output), res.DurationMS)
	}
	// done 由原子计数给出，恰好有一次等于 total。
	if done == total {
		o.log.Success("全部 %d 个任务已处理", total)
	}
}

// formatRemaining 按已完成任务的平均耗时估算剩余时间。
func formatRemaining(elapsed time.Duration, done, total int) string {
	if done <= 0 || total <= 0 {
		return "--:--:--"
	}
	if done >= total {
		return formatElapsed(0)
	}
	per := elapsed / time.Duration(done)
	return formatElapsed(per * time.Duration(total-done))
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
