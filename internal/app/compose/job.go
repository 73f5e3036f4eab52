// Package compose 实现单个配对的合成任务：解码 -> 尺寸归一 -> (灰度) -> 两图层文档 -> 落盘。
package compose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/John-Robertt/img2psd/internal/domain"
	"github.com/John-Robertt/img2psd/internal/infra/fsx"
	"github.com/John-Robertt/img2psd/internal/infra/imgx"
	"github.com/John-Robertt/img2psd/internal/psd"
)

const (
	// BackgroundLayer 是底层图层名（来自 A 目录）。
	BackgroundLayer = "Background"
	// TopLayer 是顶层图层名（来自 B 目录）。
	TopLayer = "Layer 1"
)

// 通过可替换的函数指针，让测试能注入解码失败或 panic。
var decodeFunc = imgx.Decode

// Job 是一次合成任务的全部输入，提交时即固定，不与其他任务共享可变状态。
type Job struct {
	Pair      domain.ImagePair
	OutputDir string
	Gray      bool

	// Timeout > 0 时为本任务设置截止时间；由任务自身在各阶段之间检查。
	Timeout time.Duration
}

// stageError 把阶段失败与 error_code 绑定在一起。
type stageError struct {
	code string
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// OutputPath 返回该任务的输出文档路径。
func (j Job) OutputPath() string {
	return filepath.Join(j.OutputDir, j.Pair.OutputName)
}

// Run 同步执行任务并返回结果；任何失败（含 panic）都转为 failed 结果，不向外抛出。
func (j Job) Run(ctx context.Context) (res domain.JobResult) {
	started := time.Now()
	res = domain.JobResult{
		Index:   j.Pair.Index,
		Key:     j.Pair.A.Key,
		SourceA: j.Pair.A.Path,
		SourceB: j.Pair.B.Path,
		Output:  j.Pair.OutputName,
		Status:  domain.StatusSucceeded,
	}

	defer func() {
		if v := recover(); v != nil {
			res.Status = domain.StatusFailed
			res.ErrorCode = domain.ErrCodeInternal
			res.ErrorMsg = fmt.Sprintf("任务内部错误：%v\n%s", v, debug.Stack())
			res.Width, res.Height, res.Channels = 0, 0, 0
		}
		res.DurationMS = time.Since(started).Milliseconds()
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	doc, err := j.compose(ctx)
	if err != nil {
		res.Status = domain.StatusFailed
		res.ErrorCode = codeOf(err)
		res.ErrorMsg = err.Error()
		return res
	}

	res.Width = doc.Width
	res.Height = doc.Height
	res.Channels = doc.Channels()
	return res
}

func (j Job) compose(ctx context.Context) (*psd.Document, error) {
	// pre-decode
	if err := checkpoint(ctx, "解码前"); err != nil {
		return nil, err
	}
	imgA, err := decodeFunc(j.Pair.A.Path)
	if err != nil {
		return nil, &stageError{code: domain.ErrCodeDecodeFailed, err: fmt.Errorf("A 图解码失败：%w", err)}
	}
	imgB, err := decodeFunc(j.Pair.B.Path)
	if err != nil {
		return nil, &stageError{code: domain.ErrCodeDecodeFailed, err: fmt.Errorf("B 图解码失败：%w", err)}
	}

	// pre-resize
	if err := checkpoint(ctx, "缩放前"); err != nil {
		return nil, err
	}
	imgA = Normalize(imgA, imgB)

	mode := psd.RGB
	if j.Gray {
		mode = psd.Grayscale
	}
	doc := psd.New(mode)
	if err := doc.AddLayer(BackgroundLayer, imgA); err != nil {
		return nil, &stageError{code: domain.ErrCodeEncodeFailed, err: err}
	}
	if err := doc.AddLayer(TopLayer, imgB); err != nil {
		return nil, &stageError{code: domain.ErrCodeEncodeFailed, err: err}
	}

	// pre-save
	if err := checkpoint(ctx, "写入前"); err != nil {
		return nil, err
	}
	if err := doc.Save(j.OutputPath()); err != nil {
		code := domain.ErrCodeEncodeFailed
		if fsx.IsPathTypeConflict(err) {
			code = domain.ErrCodeTargetConflict
		}
		return nil, &stageError{code: code, err: fmt.Errorf("写入 %q 失败：%w", j.OutputPath(), err)}
	}
	return doc, nil
}

// Normalize 在 a 与 b 尺寸不一致时，把 a 以最近邻缩放到 b 的行列数；否则原样返回 a。
func Normalize(a, b image.Image) image.Image {
	if imgx.SameSize(a, b) {
		return a
	}
	bb := b.Bounds()
	return imgx.ResizeNearest(a, bb.Dy(), bb.Dx())
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return &stageError{code: domain.ErrCodeCanceled, err: fmt.Errorf("%s取消：%w", stage, err)}
	}
	return nil
}

func codeOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.code
	}
	return domain.ErrCodeInternal
}
