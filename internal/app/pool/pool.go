package pool

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrClosed 表示 pool 已经开始关闭，不再接受新任务。
var ErrClosed = errors.New("pool: 已关闭")

// Pool 是固定大小的 worker pool：多个 worker 消费同一个无界 FIFO 队列。
//
// 约束：
// - 每个提交成功的任务恰好在一个 worker 上执行一次
// - 任务之间没有顺序保证
// - Close 是 drain：先停止接收，再等队列里已有的任务全部跑完
// - 队列是唯一的内部共享可变结构，访问只经过 mu；cond 表示“队列非空或正在关闭”
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stop    bool
	wg      sync.WaitGroup
	size    int
	onPanic func(v any)
}

// Option 用于定制 Pool。
type Option func(*Pool)

// WithPanicHandler 设置任务 panic 时的回调（在执行该任务的 worker 上调用）。
// 未设置时 panic 被吞掉，worker 继续消费队列。
func WithPanicHandler(fn func(v any)) Option {
	return func(p *Pool) { p.onPanic = fn }
}

// New 启动 size 个 worker；size < 1 时取 runtime.NumCPU()。
func New(size int, opts ...Option) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	p := &Pool{size: size}
	p.cond = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(p)
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Size 返回 worker 数量。
func (p *Pool) Size() int { return p.size }

// Submit 把任务放入队列；Close 之后提交返回 ErrClosed。
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("pool: task 不能为 nil")
	}
	p.mu.Lock()
	if p.stop {
		p.mu.Unlock()
		return ErrClosed
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// Close 停止接收新任务，唤醒所有空闲 worker，并阻塞到队列清空、所有 worker 退出。
// 可重复调用。
func (p *Pool) Close() {
	p.mu.Lock()
	p.stop = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stop {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// stop && 队列已空：退出。
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if v := recover(); v != nil && p.onPanic != nil {
			p.onPanic(v)
		}
	}()
	task()
}
