package run

import (
	"github.com/John-Robertt/img2psd/internal/config"
	"github.com/John-Robertt/img2psd/internal/domain"
)

// Observer 用于把“运行进度/任务结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：OnJobDone 来自多个 worker goroutine。
type Observer interface {
	// OnStart 在 Execute 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPaired 在配对完成、提交任务之前调用一次（total 即进度上限）。
	OnPaired(total int)
	// OnJobDone 在每个任务结束时调用一次，无论成功或失败；done 单调递增至 total。
	OnJobDone(done, total int, res domain.JobResult)
}

// nopObserver 在调用方未提供 Observer 时使用。
type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig) {}
func (nopObserver) OnPaired(int) {}
func (nopObserver) OnJobDone(int, int, domain.JobResult) {}
