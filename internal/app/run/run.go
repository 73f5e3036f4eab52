// Package run 驱动一次完整的配对 + 并发合成流程。
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/img2psd/internal/app/compose"
	"github.com/John-Robertt/img2psd/internal/app/pool"
	"github.com/John-Robertt/img2psd/internal/config"
	"github.com/John-Robertt/img2psd/internal/domain"
	"github.com/John-Robertt/img2psd/internal/infra/fsx"
	"github.com/John-Robertt/img2psd/internal/infra/history"
	"github.com/John-Robertt/img2psd/internal/scan"
)

const (
	ErrCodeOutputConflict = "output_conflict"
	ErrCodeOutputFailed   = "output_failed"
	ErrCodeReportFailed   = "report_failed"
	ErrCodeHistoryFailed  = "history_failed"
)

// RunError 是运行级（非单个任务）的错误：配对失败、输出目录不可用，
// 或运行结束后写 report/history 失败。
type RunError struct {
	Code string
	Err  error
}

func (e *RunError) Error() string { return fmt.Sprintf("%s：%v", e.Code, e.Err) }
func (e *RunError) Unwrap() error { return e.Err }

// newRunID 可在测试中替换，以得到稳定的 run_id。
var newRunID = func() string { return uuid.NewString() }

// Execute 执行一次运行并返回对外稳定的 RunReport。
//
// - 配对/输出目录错误：同步返回 *RunError，此时不会提交任何任务、不会写出任何文档
// - 单个任务失败：记录在 RunReport.Items 中（status=failed），不影响其他任务
// - Observer 回调 panic：任务照常完成，返回带完整 RunReport 的 internal_error
// - 运行后写 report/history 失败：返回带完整 RunReport 的 error
func Execute(ctx context.Context, eff config.EffectiveConfig, obs Observer) (domain.RunReport, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	obs.OnStart(eff)

	rr := domain.RunReport{
		RunID:     newRunID(),
		DirA:      eff.DirA,
		DirB:      eff.DirB,
		Output:    eff.Output,
		Gray:      eff.Gray,
		Workers:   eff.Workers,
		StartedAt: time.Now().UTC(),
	}

	pairs, err := scan.Pair(eff.DirA, eff.DirB)
	if err != nil {
		return setupFailed(rr, scan.Code(err), err)
	}
	if err := fsx.EnsureDir(eff.Output); err != nil {
		code := ErrCodeOutputFailed
		if fsx.IsPathTypeConflict(err) {
			code = ErrCodeOutputConflict
		}
		return setupFailed(rr, code, err)
	}

	total := len(pairs)
	obs.OnPaired(total)
	items, err := executeJobs(ctx, eff, pairs, obs)
	rr.Items = items
	rr = finish(rr)
	if err != nil {
		return rr, &RunError{Code: domain.ErrCodeInternal, Err: err}
	}

	if eff.ReportPath != "" {
		if err := writeReport(eff.ReportPath, rr); err != nil {
			return rr, &RunError{Code: ErrCodeReportFailed, Err: err}
		}
	}
	if eff.HistoryDB != "" {
		if err := recordHistory(ctx, eff.HistoryDB, rr); err != nil {
			return rr, &RunError{Code: ErrCodeHistoryFailed, Err: err}
		}
	}
	return rr, nil
}

// executeJobs 把每个配对作为一个独立任务提交到 worker pool，并等待全部完成（drain）。
// Job.Run 自身不会 panic；逃出任务的 panic 只可能来自 Observer 回调，统计后作为运行级错误返回。
func executeJobs(ctx context.Context, eff config.EffectiveConfig, pairs []domain.ImagePair, obs Observer) ([]domain.JobResult, error) {
	total := len(pairs)
	var (
		mu       sync.Mutex
		results  = make([]domain.JobResult, 0, total)
		done     atomic.Int64
		panicked atomic.Int64
		first    atomic.Value
	)
	record := func(res domain.JobResult) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
		obs.OnJobDone(int(done.Add(1)), total, res)
	}

	p := pool.New(eff.Workers, pool.WithPanicHandler(func(v any) {
		panicked.Add(1)
		first.CompareAndSwap(nil, fmt.Sprint(v))
	}))
	for _, pair := range pairs {
		job := compose.Job{
			Pair:      pair,
			OutputDir: eff.Output,
			Gray:      eff.Gray,
			Timeout:   eff.JobTimeout,
		}
		if err := p.Submit(func() { record(job.Run(ctx)) }); err != nil {
			// 只有 Close 之后才会失败；这里仍按“已尝试”计入进度。
			record(failedResult(job, domain.ErrCodeInternal, err))
		}
	}
	p.Close()
	if n := panicked.Load(); n > 0 {
		return results, fmt.Errorf("%d 个进度回调 panic：%v", n, first.Load())
	}
	return results, nil
}

func failedResult(job compose.Job, code string, err error) domain.JobResult {
	return domain.JobResult{
		Index:     job.Pair.Index,
		Key:       job.Pair.A.Key,
		SourceA:   job.Pair.A.Path,
		SourceB:   job.Pair.B.Path,
		Output:    job.Pair.OutputName,
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	}
}

func setupFailed(rr domain.RunReport, code string, err error) (domain.RunReport, error) {
	rr.ErrorCode = code
	rr.ErrorMsg = err.Error()
	return finish(rr), &RunError{Code: code, Err: err}
}

func finish(rr domain.RunReport) domain.RunReport {
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	return rr
}

func writeReport(path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := fsx.EnsureDir(dir); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(dir, filepath.Base(path), append(b, '\n'))
}

func recordHistory(ctx context.Context, path string, rr domain.RunReport) error {
	s, err := history.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()
	// 任务被取消时也要记录本次运行。
	return s.RecordRun(context.WithoutCancel(ctx), rr)
}

// Failed 报告 RunReport 中是否存在失败的任务。
func Failed(rr domain.RunReport) bool {
	return rr.Summary.Failed > 0
}
